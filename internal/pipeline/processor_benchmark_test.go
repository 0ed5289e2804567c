package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/ookuma-s/instagram-story-image/internal/story"
)

func BenchmarkProcess(b *testing.B) {
	for _, mode := range []story.LayoutMode{story.LayoutCropFill, story.LayoutBlurPadFit} {
		b.Run(string(mode), func(b *testing.B) {
			processor := NewLocalProcessor(b.TempDir())
			processor.fetcher = staticFetcher{data: buildTestPNG(b, 1920, 1080), contentType: story.ContentTypePNG}
			processor.emitter = discardEmitter{}

			req := Request{
				SourceType: SourceTypeLocalFile,
				ObjectKey:  "ignored.png",
				Layout:     mode,
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				req.StoryID = fmt.Sprintf("bench-%s-%d", mode, i)
				if _, err := processor.Process(context.Background(), req); err != nil {
					b.Fatalf("process: %v", err)
				}
			}
		})
	}
}

type staticFetcher struct {
	data        []byte
	contentType string
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, string, error) {
	return f.data, f.contentType, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, res story.Result) (Output, error) {
	return Output{
		Filename: res.Filename,
		Bytes:    len(res.Bytes),
		Width:    res.Width,
		Height:   res.Height,
	}, nil
}
