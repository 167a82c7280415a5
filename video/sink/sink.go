// Package sink holds destinations for rendered preview images.
package sink

import (
	"gocv.io/x/gocv"
)

// Sink is a destination for a stream of images. Put must not retain img.
type Sink interface {
	Put(img gocv.Mat)
	Close()
}

var _ Sink = (*MJPEGStream)(nil)
