package story

import (
	"regexp"
	"testing"
	"time"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{
			name: "reference instant",
			at:   time.Date(2024, 3, 5, 9, 7, 2, 0, time.UTC),
			want: "story_20240305_090702.jpg",
		},
		{
			name: "single digit fields are zero padded",
			at:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			want: "story_20250102_030405.jpg",
		},
		{
			name: "end of year",
			at:   time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			want: "story_20251231_235959.jpg",
		},
		{
			name: "sub-second precision is dropped",
			at:   time.Date(2024, 3, 5, 9, 7, 2, 999_999_999, time.UTC),
			want: "story_20240305_090702.jpg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Filename(tc.at); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFilename_UsesWallClockOfLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	at := time.Date(2024, 3, 5, 9, 7, 2, 0, loc)

	if got, want := Filename(at), "story_20240305_090702.jpg"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got, want := Filename(at.UTC()), "story_20240305_000702.jpg"; got != want {
		t.Fatalf("expected %q after zone conversion, got %q", want, got)
	}
}

func TestFilename_Pattern(t *testing.T) {
	pattern := regexp.MustCompile(`^story_\d{8}_\d{6}\.jpg$`)
	if got := Filename(time.Now()); !pattern.MatchString(got) {
		t.Fatalf("expected %q to match %s", got, pattern)
	}
}
