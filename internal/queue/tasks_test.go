package queue

import (
	"testing"
	"time"
)

func TestRenderStoryTaskRoundTrip(t *testing.T) {
	payload := RenderStoryPayload{
		StoryID:     "story-123",
		SourceType:  "s3_presigned",
		Layout:      "blur_pad_fit",
		ObjectKey:   "uploads/story-123/source",
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewRenderStoryTask(payload)
	if err != nil {
		t.Fatalf("NewRenderStoryTask returned error: %v", err)
	}
	if task.Type() != TypeRenderStory {
		t.Fatalf("expected task type %q, got %q", TypeRenderStory, task.Type())
	}

	parsed, err := ParseRenderStoryPayload(task)
	if err != nil {
		t.Fatalf("ParseRenderStoryPayload returned error: %v", err)
	}

	if parsed.StoryID != payload.StoryID {
		t.Fatalf("expected story_id %q, got %q", payload.StoryID, parsed.StoryID)
	}
	if parsed.Layout != payload.Layout {
		t.Fatalf("expected layout %q, got %q", payload.Layout, parsed.Layout)
	}
	if parsed.ObjectKey != payload.ObjectKey {
		t.Fatalf("expected object_key %q, got %q", payload.ObjectKey, parsed.ObjectKey)
	}
}
