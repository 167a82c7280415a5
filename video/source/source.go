// Package source provides the OpenCV-backed inputs of the pipeline: the
// camera and the background provider.
package source

import (
	"fmt"

	"gocv.io/x/gocv"

	"backdrop/video/frame"
)

// ToFrame copies an 8-bit OpenCV image into dst as packed BGR. Gray and BGRA
// images are converted.
func ToFrame(m gocv.Mat, dst *frame.Frame) error {
	if m.Empty() {
		dst.Resize(frame.Geometry{})
		return nil
	}
	src := m
	switch m.Type() {
	case gocv.MatTypeCV8UC3:
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC4:
		conv := gocv.NewMat()
		defer conv.Close()
		code := gocv.ColorGrayToBGR
		if m.Type() == gocv.MatTypeCV8UC4 {
			code = gocv.ColorBGRAToBGR
		}
		gocv.CvtColor(m, &conv, code)
		src = conv
	default:
		return fmt.Errorf("unsupported image type %v", m.Type())
	}
	b := src.ToBytes()
	g := frame.Geometry{Width: src.Cols(), Height: src.Rows()}
	if len(b) != g.Pixels()*frame.ChannelsBGR {
		return fmt.Errorf("image %v is not continuous", g)
	}
	dst.Resize(g)
	copy(dst.Pix, b)
	return nil
}

// FrameMat wraps a copy of f as an OpenCV image. The caller closes it.
func FrameMat(f *frame.Frame) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, append([]byte(nil), f.Pix...))
}

// MaskMat wraps a copy of m as a single channel OpenCV image.
func MaskMat(m *frame.Mask) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, append([]byte(nil), m.Pix...))
}
