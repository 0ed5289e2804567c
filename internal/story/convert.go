package story

import (
	"context"
	"time"
)

// Input is one raw upload handed to Convert. A nil Input means the caller
// supplied no file at all.
type Input struct {
	Data        []byte
	ContentType string
}

type Result struct {
	Bytes       []byte
	Filename    string
	Width       int
	Height      int
	SrcWidth    int
	SrcHeight   int
	ContentType string
}

type Converter struct {
	decoder  Decoder
	composer Composer
	encoder  Encoder
	now      func() time.Time
}

func NewConverter() *Converter {
	b := newBackend()
	return &Converter{decoder: b, composer: b, encoder: b, now: time.Now}
}

// Convert runs the pipeline on one uploaded photo: validate, decode, guard
// dimensions, compose, encode, name. The first failing stage wins and is
// returned as a *ConversionError. ctx is consulted once before any work
// starts; a running conversion is never aborted. Decoded surfaces are
// released on every exit path.
func (c *Converter) Convert(ctx context.Context, in *Input, mode LayoutMode) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if cerr := Validate(in); cerr != nil {
		return Result{}, cerr
	}

	src, err := c.decoder.Decode(in.Data)
	if err != nil {
		return Result{}, &ConversionError{Type: ErrorDecodeFailed, Detail: err.Error()}
	}
	defer src.Release()

	srcW, srcH := src.Width(), src.Height()
	if cerr := CheckDimensions(srcW, srcH); cerr != nil {
		return Result{}, cerr
	}

	out, err := c.composer.Compose(src, mode)
	if err != nil {
		return Result{}, &ConversionError{Type: ErrorConversionFailed, Detail: err.Error()}
	}
	defer out.Release()

	data, err := c.encoder.Encode(out)
	if err != nil {
		return Result{}, &ConversionError{Type: ErrorConversionFailed, Detail: err.Error()}
	}

	return Result{
		Bytes:       data,
		Filename:    Filename(c.now()),
		Width:       CanvasWidth,
		Height:      CanvasHeight,
		SrcWidth:    srcW,
		SrcHeight:   srcH,
		ContentType: ContentTypeJPEG,
	}, nil
}
