// Package compose holds the per-frame pixel transforms: cropping and scaling
// to the output geometry, alpha blending, mirroring and YUYV packing.
//
// Functions either allocate a new buffer or write into one supplied by the
// caller; none of them keep state between calls except the scratch buffers
// owned by a CropScaler.
package compose

import (
	"backdrop/util"
	"backdrop/video/frame"
)

// CropRegion returns the largest centered rectangle of the capture frame with
// the output aspect ratio. The zero Rect is returned when no crop is needed.
func CropRegion(capture, output frame.Geometry) frame.Rect {
	if capture.Empty() || output.Empty() {
		return frame.Rect{}
	}
	cw, ch := capture.Width, capture.Height
	ow, oh := output.Width, output.Height

	var r frame.Rect
	switch {
	case cw*oh > ow*ch:
		// Capture is proportionally wider, trim the sides.
		w := ch * ow / oh
		r = frame.Rect{X: (cw - w) / 2, Width: w, Height: ch}
	case cw*oh < ow*ch:
		h := cw * oh / ow
		r = frame.Rect{Y: (ch - h) / 2, Width: cw, Height: h}
	default:
		return frame.Rect{}
	}
	if r.Width == cw && r.Height == ch {
		return frame.Rect{}
	}
	return r
}

// AspectMismatch reports whether the output aspect ratio differs from the
// capture's. Compared as integers to stay clear of float equality.
func AspectMismatch(capture, output frame.Geometry) bool {
	if capture.Empty() || output.Empty() {
		return false
	}
	expWidth := output.Height * capture.Width / capture.Height
	return expWidth != output.Width
}

func fits(r frame.Rect, g frame.Geometry) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.Width <= g.Width && r.Y+r.Height <= g.Height
}

// Crop copies region r of src into dst.
func Crop(dst, src *frame.Frame, r frame.Rect) error {
	if !fits(r, src.Geometry()) {
		return util.Errorf(util.KindDimensionMismatch, "crop", "region %v outside %v frame", r, src.Geometry())
	}
	dst.Resize(r.Geometry())
	rowBytes := r.Width * frame.ChannelsBGR
	for y := 0; y < r.Height; y++ {
		so := (r.Y+y)*src.Stride() + r.X*frame.ChannelsBGR
		copy(dst.Pix[y*rowBytes:(y+1)*rowBytes], src.Pix[so:so+rowBytes])
	}
	return nil
}

// CropScaler reconciles the capture geometry with the output geometry. The
// region is fixed at construction; scratch buffers are reused across frames.
type CropScaler struct {
	Region frame.Rect
	Target frame.Geometry

	cropped frame.Frame
	scale   scaler
}

func NewCropScaler(capture, target frame.Geometry) *CropScaler {
	c := &CropScaler{
		Target: target,
	}
	if capture != target {
		c.Region = CropRegion(capture, target)
	}
	return c
}

// Apply writes src, cropped and resized to the target geometry, into dst.
// dst must not alias src.
func (c *CropScaler) Apply(dst, src *frame.Frame) error {
	in := src
	if !c.Region.Empty() {
		if err := Crop(&c.cropped, src, c.Region); err != nil {
			return err
		}
		in = &c.cropped
	}
	if in.Geometry() == c.Target {
		dst.CopyFrom(in)
		return nil
	}
	c.scale.frame(dst, in, c.Target)
	return nil
}

// CropAndScale is the allocating form of CropScaler.Apply.
func CropAndScale(src *frame.Frame, region frame.Rect, target frame.Geometry) (*frame.Frame, error) {
	c := &CropScaler{Region: region, Target: target}
	out := &frame.Frame{}
	if err := c.Apply(out, src); err != nil {
		return nil, err
	}
	return out, nil
}
