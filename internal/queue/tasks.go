package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeRenderStory = "story:render"

type RenderStoryPayload struct {
	StoryID     string    `json:"story_id"`
	SourceType  string    `json:"source_type"`
	Layout      string    `json:"layout"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	ObjectKey   string    `json:"object_key"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewRenderStoryTask(payload RenderStoryPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderStory, body), nil
}

func ParseRenderStoryPayload(task *asynq.Task) (RenderStoryPayload, error) {
	var payload RenderStoryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderStoryPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	return payload, nil
}
