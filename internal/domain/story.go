package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ookuma-s/instagram-story-image/internal/story"
)

const (
	StoryStatusCreated    = "created"
	StoryStatusQueued     = "queued"
	StoryStatusProcessing = "processing"
	StoryStatusSucceeded  = "succeeded"
	StoryStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateStoryRequest struct {
	SourceType string `json:"source_type"`
	Layout     string `json:"layout"`
	WebhookURL string `json:"webhook_url,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
}

type Story struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Status       string    `json:"status"`
	SourceType   string    `json:"source_type"`
	Layout       string    `json:"layout"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	ObjectKey    string    `json:"object_key"`
	OutputKey    string    `json:"output_key,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	ErrorType    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r CreateStoryRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if _, err := story.ParseLayout(r.Layout); err != nil {
		return fmt.Errorf("unsupported layout: %q", r.Layout)
	}
	return nil
}
