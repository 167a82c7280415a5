package process

import (
	"image"

	"gocv.io/x/gocv"

	"backdrop/video/frame"
	"backdrop/video/source"
)

// Blur is a Gaussian blur applied in place.
type Blur struct {
	out gocv.Mat
}

func NewBlur() *Blur {
	return &Blur{out: gocv.NewMat()}
}

// Blur smooths f with a strength x strength kernel.
func (b *Blur) Blur(f *frame.Frame, strength int) error {
	in, err := source.FrameMat(f)
	if err != nil {
		return err
	}
	defer in.Close()
	gocv.GaussianBlur(in, &b.out, image.Point{X: strength, Y: strength}, 0, 0, gocv.BorderDefault)
	return source.ToFrame(b.out, f)
}

func (b *Blur) Close() error {
	return b.out.Close()
}
