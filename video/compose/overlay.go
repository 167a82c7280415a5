package compose

import (
	"image"

	"backdrop/util"
	"backdrop/video/frame"
)

// ThumbWidth is the width of preview picture-in-picture insets.
const ThumbWidth = 160

// ThumbGeometry returns the inset size for src shown inside dst. It reports
// false when the inset would not fit or would hide most of dst.
func ThumbGeometry(src, dst frame.Geometry) (frame.Geometry, bool) {
	if src.Empty() || dst.Width < ThumbWidth {
		return frame.Geometry{}, false
	}
	h := src.Height * ThumbWidth / src.Width
	if h < 1 || h > dst.Height {
		return frame.Geometry{}, false
	}
	if h >= dst.Height*3/4 && src.Width >= dst.Width/2 {
		return frame.Geometry{}, false
	}
	return frame.Geometry{Width: ThumbWidth, Height: h}, true
}

// Paste copies src into dst with its top left corner at p.
func Paste(dst, src *frame.Frame, p image.Point) error {
	r := frame.Rect{X: p.X, Y: p.Y, Width: src.Width, Height: src.Height}
	if !fits(r, dst.Geometry()) {
		return util.Errorf(util.KindDimensionMismatch, "paste", "%v does not fit in %v", r, dst.Geometry())
	}
	n := src.Width * frame.ChannelsBGR
	for y := 0; y < src.Height; y++ {
		o := ((p.Y+y)*dst.Width + p.X) * frame.ChannelsBGR
		copy(dst.Pix[o:o+n], src.Pix[y*n:(y+1)*n])
	}
	return nil
}

// MaskToFrame renders m as a gray image.
func MaskToFrame(dst *frame.Frame, m *frame.Mask) {
	dst.Resize(m.Geometry())
	for i, v := range m.Pix {
		j := i * frame.ChannelsBGR
		dst.Pix[j], dst.Pix[j+1], dst.Pix[j+2] = v, v, v
	}
}
