package compose

import (
	"image"

	"golang.org/x/image/draw"

	"backdrop/video/frame"
)

// scaler resamples through *image.RGBA so x/image/draw stays on its fast
// path. Channel order is irrelevant to resampling, so BGR bytes are carried
// in the RGB slots unchanged.
type scaler struct {
	src, dst *image.RGBA
}

func rgba(img *image.RGBA, g frame.Geometry) *image.RGBA {
	if img != nil && img.Rect.Dx() == g.Width && img.Rect.Dy() == g.Height {
		return img
	}
	return image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
}

func (s *scaler) frame(dst, src *frame.Frame, target frame.Geometry) {
	s.src = rgba(s.src, src.Geometry())
	s.dst = rgba(s.dst, target)

	p := s.src.Pix
	for i, j := 0, 0; i < len(src.Pix); i, j = i+3, j+4 {
		p[j], p[j+1], p[j+2], p[j+3] = src.Pix[i], src.Pix[i+1], src.Pix[i+2], 0xff
	}

	draw.ApproxBiLinear.Scale(s.dst, s.dst.Bounds(), s.src, s.src.Bounds(), draw.Src, nil)

	dst.Resize(target)
	p = s.dst.Pix
	for i, j := 0, 0; i < len(dst.Pix); i, j = i+3, j+4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = p[j], p[j+1], p[j+2]
	}
}

func (s *scaler) mask(dst, src *frame.Mask, target frame.Geometry) {
	s.src = rgba(s.src, src.Geometry())
	s.dst = rgba(s.dst, target)

	p := s.src.Pix
	for i, v := range src.Pix {
		j := i * 4
		p[j], p[j+1], p[j+2], p[j+3] = v, v, v, 0xff
	}

	draw.ApproxBiLinear.Scale(s.dst, s.dst.Bounds(), s.src, s.src.Bounds(), draw.Src, nil)

	dst.Resize(target)
	p = s.dst.Pix
	for i := range dst.Pix {
		dst.Pix[i] = p[i*4]
	}
}

// MaskScaler resizes masks, reusing its scratch buffers.
type MaskScaler struct {
	s scaler
}

// Apply writes src resized to target into dst. dst must not alias src.
func (m *MaskScaler) Apply(dst, src *frame.Mask, target frame.Geometry) {
	if src.Geometry() == target {
		dst.CopyFrom(src)
		return
	}
	m.s.mask(dst, src, target)
}

// Scale returns src resized to target.
func Scale(src *frame.Frame, target frame.Geometry) *frame.Frame {
	out := &frame.Frame{}
	if src.Geometry() == target {
		out.CopyFrom(src)
		return out
	}
	var s scaler
	s.frame(out, src, target)
	return out
}
