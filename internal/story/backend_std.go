package story

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

type imageSurface struct {
	img      image.Image
	released bool
}

func (s *imageSurface) Width() int  { return s.img.Bounds().Dx() }
func (s *imageSurface) Height() int { return s.img.Bounds().Dy() }

func (s *imageSurface) Release() {
	if s.released {
		return
	}
	s.released = true
	s.img = nil
}

func (s *imageSurface) Released() bool { return s.released }

type stdBackend struct{}

func (stdBackend) Decode(data []byte) (Surface, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return &imageSurface{img: img}, nil
}

func (stdBackend) Compose(src Surface, mode LayoutMode) (Surface, error) {
	is, ok := src.(*imageSurface)
	if !ok {
		return nil, fmt.Errorf("foreign surface type %T", src)
	}
	if is.released {
		return nil, errors.New("source surface already released")
	}

	geo := ComputeGeometry(is.Width(), is.Height(), mode)

	canvas := image.NewNRGBA(image.Rect(0, 0, CanvasWidth, CanvasHeight))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	if mode == LayoutBlurPadFit {
		drawBlurredBackground(canvas, is.img, geo.Background)
	}
	drawMapping(canvas, is.img, geo.Foreground, draw.Over)

	return &imageSurface{img: canvas}, nil
}

// drawBlurredBackground scales the cover window up to the overdrawn
// destination, blurs at destination scale, then pastes the central
// canvas-sized window. The canvas edge is never left unpainted.
func drawBlurredBackground(canvas *image.NRGBA, src image.Image, m Mapping) {
	dr := m.Dst.Bounds()
	scaled := image.NewNRGBA(image.Rect(0, 0, dr.Dx(), dr.Dy()))
	sr := m.Src.Bounds().Add(src.Bounds().Min)
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, sr, draw.Src, nil)

	blurred := imaging.Blur(scaled, BlurSigma)
	draw.Draw(canvas, canvas.Bounds(), blurred, image.Pt(-dr.Min.X, -dr.Min.Y), draw.Src)
}

func drawMapping(canvas *image.NRGBA, src image.Image, m Mapping, op draw.Op) {
	sr := m.Src.Bounds().Add(src.Bounds().Min)
	draw.CatmullRom.Scale(canvas, m.Dst.Bounds(), src, sr, op, nil)
}

func (stdBackend) Encode(img Surface) ([]byte, error) {
	is, ok := img.(*imageSurface)
	if !ok {
		return nil, fmt.Errorf("foreign surface type %T", img)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, is.img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	if buf.Len() == 0 {
		return nil, errors.New("encoder produced no bytes")
	}
	return buf.Bytes(), nil
}
