package compose

import (
	"backdrop/util"
	"backdrop/video/frame"
)

// BT.601 full range coefficients in 16.16 fixed point.
const (
	kR  = 19595  // 0.299
	kG  = 38470  // 0.587
	kB  = 7471   // 0.114
	kCb = 36962  // 0.564
	kCr = 46727  // 0.713
	kRV = 91947  // 1.403
	kGU = 22544  // 0.344
	kGV = 46793  // 0.714
	kBU = 116196 // 1.773

	half = 1 << 15
)

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// Luma returns the Y value of a BGR pixel.
func Luma(b, g, r byte) byte {
	return byte((kR*int(r) + kG*int(g) + kB*int(b) + half) >> 16)
}

// Chroma returns the U (Cb) and V (Cr) values of a BGR pixel.
func Chroma(b, g, r byte) (u, v byte) {
	y := int(Luma(b, g, r))
	u = clamp(128 + ((int(b)-y)*kCb+half)>>16)
	v = clamp(128 + ((int(r)-y)*kCr+half)>>16)
	return u, v
}

// PackYUYV converts a BGR frame into packed YUYV, reusing dst when it has the
// capacity. Each horizontal pixel pair keeps its two luma samples and shares
// the rounded average of their chroma: [Y0, U, Y1, V].
func PackYUYV(dst []byte, f *frame.Frame) ([]byte, error) {
	if f.Width%2 != 0 {
		return dst, util.Errorf(util.KindDimensionMismatch, "pack yuyv", "odd width %d", f.Width)
	}
	n := f.Width * f.Height * frame.BytesPerPixelYUYV
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]

	src := f.Pix
	for i, o := 0, 0; o < n; i, o = i+6, o+4 {
		b0, g0, r0 := src[i], src[i+1], src[i+2]
		b1, g1, r1 := src[i+3], src[i+4], src[i+5]
		u0, v0 := Chroma(b0, g0, r0)
		u1, v1 := Chroma(b1, g1, r1)
		dst[o] = Luma(b0, g0, r0)
		dst[o+1] = byte((int(u0) + int(u1) + 1) / 2)
		dst[o+2] = Luma(b1, g1, r1)
		dst[o+3] = byte((int(v0) + int(v1) + 1) / 2)
	}
	return dst, nil
}

// PackChroma is the allocating form of PackYUYV.
func PackChroma(f *frame.Frame) ([]byte, error) {
	return PackYUYV(nil, f)
}

// UnpackYUYV converts packed YUYV back into a BGR frame of geometry g.
func UnpackYUYV(dst *frame.Frame, src []byte, g frame.Geometry) error {
	if len(src) != g.Pixels()*frame.BytesPerPixelYUYV || g.Width%2 != 0 {
		return util.Errorf(util.KindDimensionMismatch, "unpack yuyv", "%d bytes for %v", len(src), g)
	}
	dst.Resize(g)
	for i, o := 0, 0; i < len(src); i, o = i+4, o+6 {
		u := int(src[i+1]) - 128
		v := int(src[i+3]) - 128
		for k, y := range [2]int{int(src[i]), int(src[i+2])} {
			p := o + k*3
			dst.Pix[p] = clamp(y + (kBU*u+half)>>16)
			dst.Pix[p+1] = clamp(y - (kGU*u+kGV*v+half)>>16)
			dst.Pix[p+2] = clamp(y + (kRV*v+half)>>16)
		}
	}
	return nil
}
