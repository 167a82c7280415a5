// Package frame defines the pixel buffers passed between the capture loop,
// the mask worker and the compositor.
package frame

import (
	"fmt"
	"image"
)

// Channels per pixel for the supported layouts.
const (
	ChannelsBGR  = 3
	ChannelsMask = 1
	// BytesPerPixelYUYV is the packed output layout written to the loopback device.
	BytesPerPixelYUYV = 2
)

// Geometry is a width/height pair.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Even returns g with the width rounded up to an even number. Packed chroma
// output shares chroma between horizontal pixel pairs.
func (g Geometry) Even() Geometry {
	g.Width += g.Width % 2
	return g
}

func (g Geometry) Empty() bool {
	return g.Width <= 0 || g.Height <= 0
}

func (g Geometry) Pixels() int {
	return g.Width * g.Height
}

// Aspect returns width/height, or 0 for an empty geometry.
func (g Geometry) Aspect() float64 {
	if g.Empty() {
		return 0
	}
	return float64(g.Width) / float64(g.Height)
}

func (g Geometry) Point() image.Point {
	return image.Point{X: g.Width, Y: g.Height}
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// Rect is an axis aligned region of a frame. The zero Rect means "no crop".
type Rect struct {
	X, Y          int
	Width, Height int
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Geometry() Geometry {
	return Geometry{Width: r.Width, Height: r.Height}
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Frame is a packed BGR image, row major, no padding.
type Frame struct {
	Width, Height int
	Pix           []byte
}

// New allocates a black frame with the given geometry.
func New(g Geometry) *Frame {
	return &Frame{
		Width:  g.Width,
		Height: g.Height,
		Pix:    make([]byte, g.Pixels()*ChannelsBGR),
	}
}

func (f *Frame) Geometry() Geometry {
	return Geometry{Width: f.Width, Height: f.Height}
}

// Empty reports a frame with no rows or columns, as returned by a capture glitch.
func (f *Frame) Empty() bool {
	return f == nil || f.Width <= 0 || f.Height <= 0
}

// Stride is the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * ChannelsBGR
}

// Resize changes the geometry, reusing the backing array when it is large enough.
func (f *Frame) Resize(g Geometry) {
	f.Width, f.Height = g.Width, g.Height
	n := g.Pixels() * ChannelsBGR
	if cap(f.Pix) < n {
		f.Pix = make([]byte, n)
	}
	f.Pix = f.Pix[:n]
}

// CopyFrom makes f an independent copy of src.
func (f *Frame) CopyFrom(src *Frame) {
	f.Resize(src.Geometry())
	copy(f.Pix, src.Pix)
}

func (f *Frame) Clone() *Frame {
	n := &Frame{}
	n.CopyFrom(f)
	return n
}

// Fill sets every pixel to the given BGR color.
func (f *Frame) Fill(b, g, r byte) {
	for i := 0; i+2 < len(f.Pix); i += ChannelsBGR {
		f.Pix[i] = b
		f.Pix[i+1] = g
		f.Pix[i+2] = r
	}
}

// At returns the BGR triple at (x, y).
func (f *Frame) At(x, y int) (b, g, r byte) {
	i := y*f.Stride() + x*ChannelsBGR
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

func (f *Frame) Set(x, y int, b, g, r byte) {
	i := y*f.Stride() + x*ChannelsBGR
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
}

// Mask is a single channel opacity map: 255 is subject, 0 is background.
type Mask struct {
	Width, Height int
	Pix           []byte
}

func NewMask(g Geometry) *Mask {
	return &Mask{
		Width:  g.Width,
		Height: g.Height,
		Pix:    make([]byte, g.Pixels()),
	}
}

func (m *Mask) Geometry() Geometry {
	return Geometry{Width: m.Width, Height: m.Height}
}

func (m *Mask) Empty() bool {
	return m == nil || m.Width <= 0 || m.Height <= 0
}

func (m *Mask) Resize(g Geometry) {
	m.Width, m.Height = g.Width, g.Height
	n := g.Pixels()
	if cap(m.Pix) < n {
		m.Pix = make([]byte, n)
	}
	m.Pix = m.Pix[:n]
}

func (m *Mask) CopyFrom(src *Mask) {
	m.Resize(src.Geometry())
	copy(m.Pix, src.Pix)
}

func (m *Mask) Clone() *Mask {
	n := &Mask{}
	n.CopyFrom(m)
	return n
}

func (m *Mask) Fill(v byte) {
	for i := range m.Pix {
		m.Pix[i] = v
	}
}
