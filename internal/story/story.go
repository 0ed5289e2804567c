// Package story turns arbitrary uploaded photos into fixed-size
// 1080x1920 story images.
package story

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CanvasWidth  = 1080
	CanvasHeight = 1920

	MaxUploadBytes = 10 * 1024 * 1024
	MaxDimension   = 4096

	JPEGQuality = 90

	BlurSigma  = 30.0
	BlurMargin = 30.0

	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

const canvasAspect = float64(CanvasWidth) / float64(CanvasHeight)

type LayoutMode string

const (
	LayoutCropFill   LayoutMode = "crop_fill"
	LayoutBlurPadFit LayoutMode = "blur_pad_fit"
)

var ErrUnknownLayout = errors.New("unknown layout mode")

func ParseLayout(raw string) (LayoutMode, error) {
	switch mode := LayoutMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case LayoutCropFill, LayoutBlurPadFit:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, raw)
	}
}
