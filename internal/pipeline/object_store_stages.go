package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ookuma-s/instagram-story-image/internal/domain"
	"github.com/ookuma-s/instagram-story-image/internal/storage"
	"github.com/ookuma-s/instagram-story-image/internal/story"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// NewObjectStoreProcessor builds the pipeline variant that reads uploaded
// sources from the shared bucket and writes rendered stories back under
// outputPrefix/<story id>/.
func NewObjectStoreProcessor(storageClient *storage.Client, outputPrefix string) *Processor {
	if strings.TrimSpace(outputPrefix) == "" {
		outputPrefix = "outputs"
	}
	return &Processor{
		fetcher:   ObjectStoreFetcher{Storage: storageClient},
		converter: story.NewConverter(),
		emitter:   ObjectStoreEmitter{Storage: storageClient, OutputPrefix: outputPrefix},
	}
}

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

// Fetch returns the object bytes and the content type recorded at upload
// time. The stored type, not a sniffed one, drives MIME validation.
func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, string, error) {
	if f.Storage == nil {
		return nil, "", errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObjectWithType(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, res story.Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := e.outputKey(req.StoryID, res.Filename)
	if err := e.Storage.WriteObject(ctx, objectKey, res.Bytes, res.ContentType); err != nil {
		return Output{}, err
	}

	return Output{
		Path:     objectKey,
		Filename: res.Filename,
		Bytes:    len(res.Bytes),
		Width:    res.Width,
		Height:   res.Height,
	}, nil
}

func (e ObjectStoreEmitter) outputKey(storyID, filename string) string {
	prefix := strings.TrimSpace(e.OutputPrefix)
	if prefix == "" {
		prefix = "outputs"
	}
	return path.Join(prefix, sanitizePathToken(storyID), filename)
}
