//go:build linux

// Package loopback writes raw YUYV frames to a V4L2 loopback output device,
// which other applications then open as a regular camera.
package loopback

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"backdrop/util"
	"backdrop/video/frame"
)

// Device is an open, streaming loopback sink. Format and geometry are fixed
// for the lifetime of the handle.
type Device struct {
	Path     string
	Geometry frame.Geometry
	Driver   string
	Card     string

	fd        int
	frameSize int

	mu     sync.Mutex
	closed bool
}

// Open configures path for YUYV output at geometry g and starts streaming.
// On failure nothing stays open.
func Open(path string, g frame.Geometry) (*Device, error) {
	if g.Empty() || g.Width%2 != 0 {
		return nil, util.Errorf(util.KindConfiguration, "open "+path, "invalid output geometry %v", g)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, util.Wrap(util.KindDeviceOpen, "open "+path, err)
	}
	success := false
	defer func() {
		if !success {
			unix.Close(fd)
		}
	}()

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		return nil, util.Wrap(util.KindDeviceOpen, "query capabilities of "+path, err)
	}
	c := caps.Capabilities
	if c&capDeviceCaps != 0 {
		c = caps.DeviceCaps
	}
	if c&capVideoOutput == 0 {
		log.WithField("device", path).Warnf("Device does not advertise video output capability (caps %#x)", c)
	}

	lineWidth := g.Width * frame.BytesPerPixelYUYV
	frameSize := lineWidth * g.Height

	var vf v4l2Format
	vf.Type = bufTypeVideoOutput
	vf.Fmt.Pix = v4l2PixFormat{
		Width:        uint32(g.Width),
		Height:       uint32(g.Height),
		PixelFormat:  PixFmtYUYV,
		Field:        fieldNone,
		BytesPerLine: uint32(lineWidth),
		SizeImage:    uint32(frameSize),
		Colorspace:   colorspaceSRGB,
	}
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&vf)); err != nil {
		return nil, util.Wrap(util.KindFormatNegotiation, "set format on "+path, err)
	}
	pix := vf.Fmt.Pix
	if int(pix.Width) != g.Width || int(pix.Height) != g.Height || pix.PixelFormat != PixFmtYUYV {
		return nil, util.Errorf(util.KindFormatNegotiation, "set format on "+path,
			"device answered %dx%d fourcc %#x, requested %v YUYV", pix.Width, pix.Height, pix.PixelFormat, g)
	}

	bufType := int32(bufTypeVideoOutput)
	if err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&bufType)); err != nil {
		return nil, util.Wrap(util.KindStreamStart, "stream on "+path, err)
	}

	success = true
	d := &Device{
		Path:      path,
		Geometry:  g,
		Driver:    cstring(caps.Driver[:]),
		Card:      cstring(caps.Card[:]),
		fd:        fd,
		frameSize: frameSize,
	}
	log.WithFields(log.Fields{
		"device":   path,
		"driver":   d.Driver,
		"card":     d.Card,
		"geometry": g.String(),
	}).Debugf("Loopback format: bytesperline=%d sizeimage=%d field=%d colorspace=%d",
		pix.BytesPerLine, pix.SizeImage, pix.Field, pix.Colorspace)
	return d, nil
}

// FrameSize is the number of bytes every WriteFrame call must carry.
func (d *Device) FrameSize() int {
	return d.frameSize
}

type fdWriter int

func (w fdWriter) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(int(w), b)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// WriteFull writes b to w, retrying short writes. A write that makes no
// progress is a hard failure.
func WriteFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// WriteFrame sends one full YUYV frame. Any error is fatal for the stream:
// a partially written frame desynchronizes every reader.
func (d *Device) WriteFrame(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return util.Errorf(util.KindWrite, "write "+d.Path, "device closed")
	}
	if len(b) != d.frameSize {
		return util.Errorf(util.KindWrite, "write "+d.Path, "frame is %d bytes, want %d", len(b), d.frameSize)
	}
	if err := WriteFull(fdWriter(d.fd), b); err != nil {
		return util.Wrap(util.KindWrite, "write "+d.Path, err)
	}
	return nil
}

// Close stops streaming and closes the handle. Both steps are always
// attempted.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	bufType := int32(bufTypeVideoOutput)
	if err := ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&bufType)); err != nil {
		errs = append(errs, fmt.Errorf("stream off %s: %w", d.Path, err))
	}
	if err := unix.Close(d.fd); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", d.Path, err))
	}
	err := errors.Join(errs...)
	if err != nil {
		log.WithField("device", d.Path).Errorf("Failed to release loopback device: %v", err)
	}
	return err
}
