package mask

import (
	"math"

	"golang.org/x/sync/errgroup"

	"backdrop/util"
	"backdrop/video/frame"
)

// PersonClass is the index of "person" in the 21 class Pascal VOC label set
// used by DeepLab style models.
const PersonClass = 15

// Layout is the dimension order of a 4D model output.
type Layout int

const (
	NHWC Layout = iota
	NCHW
)

// GuessLayout picks the layout of a 4D shape, assuming there are fewer
// channels than columns.
func GuessLayout(shape []int) Layout {
	if len(shape) == 4 && shape[1] < shape[3] {
		return NCHW
	}
	return NHWC
}

// Tensor is a float32 model output with its shape.
type Tensor struct {
	Data   []float32
	Shape  []int
	Layout Layout
}

// dims returns height, width, channels and layout. 3D outputs are treated
// as a single channel HxW map with a leading batch.
func (t Tensor) dims() (h, w, c int, l Layout, err error) {
	s := t.Shape
	switch len(s) {
	case 3:
		h, w, c = s[1], s[2], 1
	case 4:
		l = t.Layout
		if l == NCHW {
			c, h, w = s[1], s[2], s[3]
		} else {
			h, w, c = s[1], s[2], s[3]
		}
	default:
		return 0, 0, 0, 0, util.Errorf(util.KindInference, "decode output", "unsupported output shape %v", s)
	}
	if h < 1 || w < 1 || c < 1 || len(t.Data) < h*w*c {
		return 0, 0, 0, 0, util.Errorf(util.KindInference, "decode output", "shape %v does not match %d values", s, len(t.Data))
	}
	return h, w, c, l, nil
}

// Geometry is the spatial size of the output.
func (t Tensor) Geometry() (frame.Geometry, error) {
	h, w, _, _, err := t.dims()
	return frame.Geometry{Width: w, Height: h}, err
}

// Decode converts a segmentation output into foreground opacity:
//
//   - one channel: a person probability, clamped to [0,1]
//   - two channels: background/person logits, softmaxed
//   - more: class scores, foreground where the person class wins
//
// Rows are split across the given number of goroutines.
func Decode(t Tensor, dst *frame.Mask, threads int) error {
	h, w, c, layout, err := t.dims()
	if err != nil {
		return err
	}
	if c > 2 && c <= PersonClass {
		return util.Errorf(util.KindInference, "decode output", "%d classes, no person class", c)
	}
	dst.Resize(frame.Geometry{Width: w, Height: h})
	if threads < 1 {
		threads = 1
	}
	if threads > h {
		threads = h
	}

	at := func(y, x, ch int) float32 {
		if layout == NCHW {
			return t.Data[(ch*h+y)*w+x]
		}
		return t.Data[(y*w+x)*c+ch]
	}

	var g errgroup.Group
	rows := (h + threads - 1) / threads
	for y0 := 0; y0 < h; y0 += rows {
		y0, y1 := y0, y0+rows
		if y1 > h {
			y1 = h
		}
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				out := dst.Pix[y*w : (y+1)*w]
				for x := range out {
					var p float64
					switch c {
					case 1:
						p = float64(at(y, x, 0))
					case 2:
						bg, fg := float64(at(y, x, 0)), float64(at(y, x, 1))
						p = 1 / (1 + math.Exp(bg-fg))
					default:
						best, v := 0, at(y, x, 0)
						for ch := 1; ch < c; ch++ {
							if s := at(y, x, ch); s > v {
								best, v = ch, s
							}
						}
						if best == PersonClass {
							p = 1
						}
					}
					out[x] = opacity(p)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func opacity(p float64) byte {
	switch {
	case p != p || p <= 0:
		return 0
	case p >= 1:
		return 255
	}
	return byte(p*255 + 0.5)
}
