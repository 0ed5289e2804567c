package store

import (
	"context"

	"github.com/ookuma-s/instagram-story-image/internal/domain"
)

type StoryStore interface {
	Create(ctx context.Context, st domain.Story) error
	Get(ctx context.Context, id string) (domain.Story, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Story, error)
	MarkSucceeded(ctx context.Context, id, outputKey, filename string) (domain.Story, error)
	MarkFailed(ctx context.Context, id, errorType, errorMessage string) (domain.Story, error)
}

type ConversionLogStore interface {
	CreateConversionLog(ctx context.Context, entry domain.ConversionLog) error
}
