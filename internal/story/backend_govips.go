//go:build govips && cgo

package story

import (
	"errors"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
)

type vipsSurface struct {
	ref      *vips.ImageRef
	released bool
}

func (s *vipsSurface) Width() int  { return s.ref.Width() }
func (s *vipsSurface) Height() int { return s.ref.Height() }

func (s *vipsSurface) Release() {
	if s.released {
		return
	}
	s.released = true
	s.ref.Close()
	s.ref = nil
}

func (s *vipsSurface) Released() bool { return s.released }

type vipsBackend struct{}

func (vipsBackend) Decode(data []byte) (Surface, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	if err := ref.AutoRotate(); err != nil {
		ref.Close()
		return nil, fmt.Errorf("apply orientation: %w", err)
	}
	return &vipsSurface{ref: ref}, nil
}

func (vipsBackend) Compose(src Surface, mode LayoutMode) (Surface, error) {
	vs, ok := src.(*vipsSurface)
	if !ok {
		return nil, fmt.Errorf("foreign surface type %T", src)
	}
	if vs.released {
		return nil, errors.New("source surface already released")
	}

	geo := ComputeGeometry(vs.Width(), vs.Height(), mode)
	if mode == LayoutBlurPadFit {
		return composeBlurPad(vs.ref, geo)
	}
	return composeCrop(vs.ref, geo)
}

func composeCrop(src *vips.ImageRef, geo Geometry) (Surface, error) {
	out, err := src.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy source: %w", err)
	}
	if err := cropScale(out, geo.Foreground.Src.Bounds(), CanvasWidth, CanvasHeight); err != nil {
		out.Close()
		return nil, err
	}
	return &vipsSurface{ref: out}, nil
}

func composeBlurPad(src *vips.ImageRef, geo Geometry) (Surface, error) {
	bgDst := geo.Background.Dst.Bounds()

	bg, err := src.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy source: %w", err)
	}
	if err := cropScale(bg, geo.Background.Src.Bounds(), bgDst.Dx(), bgDst.Dy()); err != nil {
		bg.Close()
		return nil, err
	}
	if err := bg.GaussianBlur(BlurSigma); err != nil {
		bg.Close()
		return nil, fmt.Errorf("blur background: %w", err)
	}
	// Keep the canvas-sized center of the overdrawn background.
	if err := bg.ExtractArea(-bgDst.Min.X, -bgDst.Min.Y, CanvasWidth, CanvasHeight); err != nil {
		bg.Close()
		return nil, fmt.Errorf("window background: %w", err)
	}

	fgDst := geo.Foreground.Dst.Bounds()
	fg, err := src.Copy()
	if err != nil {
		bg.Close()
		return nil, fmt.Errorf("copy source: %w", err)
	}
	if err := fg.ResizeWithVScale(
		float64(fgDst.Dx())/float64(src.Width()),
		float64(fgDst.Dy())/float64(src.Height()),
		vips.KernelLanczos3,
	); err != nil {
		bg.Close()
		fg.Close()
		return nil, fmt.Errorf("scale foreground: %w", err)
	}
	if err := bg.Composite(fg, vips.BlendModeOver, fgDst.Min.X, fgDst.Min.Y); err != nil {
		bg.Close()
		fg.Close()
		return nil, fmt.Errorf("composite foreground: %w", err)
	}
	fg.Close()

	return &vipsSurface{ref: bg}, nil
}

func cropScale(img *vips.ImageRef, sr image.Rectangle, dstW, dstH int) error {
	if err := img.ExtractArea(sr.Min.X, sr.Min.Y, sr.Dx(), sr.Dy()); err != nil {
		return fmt.Errorf("crop source: %w", err)
	}
	if err := img.ResizeWithVScale(
		float64(dstW)/float64(sr.Dx()),
		float64(dstH)/float64(sr.Dy()),
		vips.KernelLanczos3,
	); err != nil {
		return fmt.Errorf("scale source: %w", err)
	}
	return nil
}

func (vipsBackend) Encode(img Surface) ([]byte, error) {
	vs, ok := img.(*vipsSurface)
	if !ok {
		return nil, fmt.Errorf("foreign surface type %T", img)
	}

	params := vips.NewJpegExportParams()
	params.Quality = JPEGQuality
	data, _, err := vs.ref.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("encoder produced no bytes")
	}
	return data, nil
}
