package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// renderTimeout bounds one render attempt. Sized for a worst-case
	// 4096x4096 source on a cold worker.
	renderTimeout = 3 * time.Minute

	// maxRenderRetries covers transient failures only; bad input aborts
	// with SkipRetry on the first attempt.
	maxRenderRetries = 5
)

type Client struct {
	producer  *asynq.Client
	queueName string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{producer: asynq.NewClient(redisOpt), queueName: queueName}
}

// EnqueueRenderStory enqueues one render per story. The task ID is derived
// from the story ID, so starting a story that is already queued or running
// fails with asynq.ErrTaskIDConflict instead of rendering twice.
func (c *Client) EnqueueRenderStory(ctx context.Context, payload RenderStoryPayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderStoryTask(payload)
	if err != nil {
		return nil, err
	}
	return c.producer.EnqueueContext(ctx, task, c.renderOptions(payload.StoryID)...)
}

func (c *Client) renderOptions(storyID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.queueName),
		asynq.TaskID("render:" + storyID),
		asynq.MaxRetry(maxRenderRetries),
		asynq.Timeout(renderTimeout),
	}
}

func (c *Client) Close() error {
	return c.producer.Close()
}
