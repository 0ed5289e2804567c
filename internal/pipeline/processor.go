package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ookuma-s/instagram-story-image/internal/story"
)

const SourceTypeLocalFile = "local_file"

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	StoryID    string
	SourceType string
	ObjectKey  string
	Layout     story.LayoutMode
}

type Output struct {
	Path     string
	Filename string
	Bytes    int
	Width    int
	Height   int
}

type Result struct {
	Output    Output
	BytesIn   int64
	SrcWidth  int
	SrcHeight int
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (data []byte, contentType string, err error)
}

type Converter interface {
	Convert(ctx context.Context, in *story.Input, mode story.LayoutMode) (story.Result, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, res story.Result) (Output, error)
}

type Processor struct {
	fetcher   Fetcher
	converter Converter
	emitter   Emitter
}

func NewLocalProcessor(outputDir string) *Processor {
	return &Processor{
		fetcher:   LocalFileFetcher{},
		converter: story.NewConverter(),
		emitter:   LocalFileEmitter{OutputDir: outputDir},
	}
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.StoryID) == "" {
		return Result{}, errors.New("story_id is required")
	}

	data, contentType, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	res, err := p.converter.Convert(ctx, &story.Input{Data: data, ContentType: contentType}, req.Layout)
	if err != nil {
		return Result{}, fmt.Errorf("convert stage: %w", err)
	}

	written, err := p.emitter.Emit(ctx, req, res)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{
		Output:    written,
		BytesIn:   int64(len(data)),
		SrcWidth:  res.SrcWidth,
		SrcHeight: res.SrcHeight,
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, string, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, "", fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, contentTypeForPath(req.ObjectKey), nil
}

// contentTypeForPath maps the file extension to the declared content type the
// converter validates. Files outside the two supported formats keep an empty
// type and are rejected downstream.
func contentTypeForPath(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".jpg", ".jpeg":
		return story.ContentTypeJPEG
	case ".png":
		return story.ContentTypePNG
	default:
		return ""
	}
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, res story.Result) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	storyDir := filepath.Join(e.OutputDir, sanitizePathToken(req.StoryID))
	if err := os.MkdirAll(storyDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(storyDir, res.Filename)
	if err := os.WriteFile(fullPath, res.Bytes, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Path:     fullPath,
		Filename: res.Filename,
		Bytes:    len(res.Bytes),
		Width:    res.Width,
		Height:   res.Height,
	}, nil
}

// sanitizePathToken keeps story IDs safe to use as a directory name.
func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, in)
}
