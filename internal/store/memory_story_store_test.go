package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ookuma-s/instagram-story-image/internal/domain"
)

func TestMemoryStoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoryStore()

	st := domain.Story{
		ID:         "story-1",
		Status:     domain.StoryStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		Layout:     "crop_fill",
		ObjectKey:  "uploads/story-1/source",
	}
	if err := s.Create(ctx, st); err != nil {
		t.Fatalf("create story: %v", err)
	}

	got, ok, err := s.Get(ctx, "story-1")
	if err != nil || !ok {
		t.Fatalf("expected stored story, got ok=%v err=%v", ok, err)
	}
	if got.Layout != "crop_fill" {
		t.Fatalf("expected layout crop_fill, got %s", got.Layout)
	}

	queued, err := s.UpdateStatus(ctx, "story-1", domain.StoryStatusQueued)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if queued.Status != domain.StoryStatusQueued {
		t.Fatalf("expected queued status, got %s", queued.Status)
	}

	done, err := s.MarkSucceeded(ctx, "story-1", "outputs/story-1/story.jpg", "story_20240305_090702.jpg")
	if err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if done.Status != domain.StoryStatusSucceeded {
		t.Fatalf("expected succeeded status, got %s", done.Status)
	}
	if done.OutputKey == "" || done.Filename == "" {
		t.Fatalf("expected output key and filename to be recorded, got %+v", done)
	}
}

func TestMemoryStoryStoreMarkFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoryStore()

	if err := s.Create(ctx, domain.Story{ID: "story-2", Status: domain.StoryStatusProcessing}); err != nil {
		t.Fatalf("create story: %v", err)
	}

	failed, err := s.MarkFailed(ctx, "story-2", "PIXEL_EXCEEDED", "image dimensions 5000x2000 exceed maximum 4096")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.Status != domain.StoryStatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
	if failed.ErrorType != "PIXEL_EXCEEDED" || failed.ErrorMessage == "" {
		t.Fatalf("expected error payload to be recorded, got %+v", failed)
	}

	if _, err := s.MarkFailed(ctx, "missing", "DECODE_FAILED", "x"); !errors.Is(err, ErrStoryNotFound) {
		t.Fatalf("expected ErrStoryNotFound, got %v", err)
	}
}

func TestMemoryStoryStoreConversionLogs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoryStore()

	entry := domain.ConversionLog{
		StoryID:         "story-3",
		Layout:          "blur_pad_fit",
		PixelsProcessed: 8_000_000,
		BytesIn:         123_456,
		BytesOut:        654_321,
		ComputeTimeMS:   42,
	}
	if err := s.CreateConversionLog(ctx, entry); err != nil {
		t.Fatalf("create conversion log: %v", err)
	}

	logs := s.ConversionLogs()
	if len(logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logs))
	}
	if logs[0].StoryID != "story-3" || logs[0].PixelsProcessed != 8_000_000 {
		t.Fatalf("unexpected log entry %+v", logs[0])
	}
}
