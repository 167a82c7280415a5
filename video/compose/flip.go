package compose

import (
	"backdrop/video/frame"
)

// FlipInPlace mirrors f horizontally and/or vertically. Both together is a
// 180 degree rotation.
func FlipInPlace(f *frame.Frame, horizontal, vertical bool) {
	if horizontal {
		for y := 0; y < f.Height; y++ {
			row := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
			for l, r := 0, (f.Width-1)*3; l < r; l, r = l+3, r-3 {
				row[l], row[r] = row[r], row[l]
				row[l+1], row[r+1] = row[r+1], row[l+1]
				row[l+2], row[r+2] = row[r+2], row[l+2]
			}
		}
	}
	if vertical {
		s := f.Stride()
		for t, b := 0, f.Height-1; t < b; t, b = t+1, b-1 {
			top := f.Pix[t*s : (t+1)*s]
			bot := f.Pix[b*s : (b+1)*s]
			for i := range top {
				top[i], bot[i] = bot[i], top[i]
			}
		}
	}
}

// Flip returns a mirrored copy of f.
func Flip(f *frame.Frame, horizontal, vertical bool) *frame.Frame {
	out := f.Clone()
	FlipInPlace(out, horizontal, vertical)
	return out
}
