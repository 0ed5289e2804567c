package story

import (
	"image"
	"math"
)

type Rect struct {
	X, Y, W, H float64
}

// Bounds converts r to integer pixel coordinates. Each edge rounds half
// away from zero; pixel width and height derive from the rounded edges.
func (r Rect) Bounds() image.Rectangle {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.W))
	y1 := int(math.Round(r.Y + r.H))
	return image.Rect(x0, y0, x1, y1)
}

type Mapping struct {
	Src Rect
	Dst Rect
}

// Geometry holds the rectangle mappings for one composition. Crop-fill
// uses only Foreground. Blur-pad-fit adds Background, which is drawn
// first; drawing order is part of the contract.
type Geometry struct {
	Background Mapping
	Foreground Mapping
}

// ComputeGeometry derives the composition rectangles for a source of the
// given pixel size. Pure function of its arguments; unknown modes fall
// back to crop-fill.
func ComputeGeometry(srcWidth, srcHeight int, mode LayoutMode) Geometry {
	w := float64(srcWidth)
	h := float64(srcHeight)

	if mode == LayoutBlurPadFit {
		return Geometry{
			Background: Mapping{Src: coverRect(w, h), Dst: inflate(canvasRect(), BlurMargin)},
			Foreground: Mapping{Src: Rect{W: w, H: h}, Dst: containRect(w, h)},
		}
	}
	return Geometry{
		Foreground: Mapping{Src: coverRect(w, h), Dst: canvasRect()},
	}
}

func canvasRect() Rect {
	return Rect{W: CanvasWidth, H: CanvasHeight}
}

// coverRect selects the centered source window whose aspect matches the
// canvas, cropping the long axis.
func coverRect(w, h float64) Rect {
	if w/h > canvasAspect {
		cw := h * canvasAspect
		return Rect{X: (w - cw) / 2, Y: 0, W: cw, H: h}
	}
	ch := w / canvasAspect
	return Rect{X: 0, Y: (h - ch) / 2, W: w, H: ch}
}

// containRect fits the whole source inside the canvas, centered, spanning
// the full width or the full height.
func containRect(w, h float64) Rect {
	var fw, fh float64
	if w/h > canvasAspect {
		fw = CanvasWidth
		fh = CanvasWidth * h / w
	} else {
		fh = CanvasHeight
		fw = CanvasHeight * w / h
	}
	return Rect{X: (CanvasWidth - fw) / 2, Y: (CanvasHeight - fh) / 2, W: fw, H: fh}
}

func inflate(r Rect, m float64) Rect {
	return Rect{X: r.X - m, Y: r.Y - m, W: r.W + 2*m, H: r.H + 2*m}
}
