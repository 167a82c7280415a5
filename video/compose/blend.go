package compose

import (
	"backdrop/util"
	"backdrop/video/frame"
)

// Blend composites fg over bg using mask into dst:
//
//	out = (fg*m + bg*(255-m)) / 255
//
// with truncating integer division. dst may alias fg or bg.
func Blend(dst, bg, fg *frame.Frame, mask *frame.Mask) error {
	g := fg.Geometry()
	if bg.Geometry() != g || mask.Geometry() != g {
		return util.Errorf(util.KindDimensionMismatch, "alpha blend",
			"background %v, foreground %v, mask %v", bg.Geometry(), g, mask.Geometry())
	}
	if len(fg.Pix) != g.Pixels()*frame.ChannelsBGR || len(bg.Pix) != len(fg.Pix) || len(mask.Pix) != g.Pixels() {
		return util.Errorf(util.KindDimensionMismatch, "alpha blend", "buffer sizes do not match %v", g)
	}
	dst.Resize(g)

	o, a, b := dst.Pix, fg.Pix, bg.Pix
	for pix, i := 0, 0; pix < len(mask.Pix); pix, i = pix+1, i+3 {
		aw := int(mask.Pix[pix])
		bw := 255 - aw
		o[i] = byte((int(a[i])*aw + int(b[i])*bw) / 255)
		o[i+1] = byte((int(a[i+1])*aw + int(b[i+1])*bw) / 255)
		o[i+2] = byte((int(a[i+2])*aw + int(b[i+2])*bw) / 255)
	}
	return nil
}

// AlphaBlend returns a new frame of fg composited over bg.
func AlphaBlend(bg, fg *frame.Frame, mask *frame.Mask) (*frame.Frame, error) {
	out := &frame.Frame{}
	if err := Blend(out, bg, fg, mask); err != nil {
		return nil, err
	}
	return out, nil
}
