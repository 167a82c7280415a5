//go:build linux

package loopback

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backdrop/util"
	"backdrop/video/frame"
)

var vga = frame.Geometry{Width: 640, Height: 480}

type chunkWriter struct {
	max int
	got []byte
}

func (w *chunkWriter) Write(b []byte) (int, error) {
	if len(b) > w.max {
		b = b[:w.max]
	}
	w.got = append(w.got, b...)
	return len(b), nil
}

type stuckWriter struct{}

func (stuckWriter) Write(b []byte) (int, error) { return 0, nil }

type failWriter struct{ err error }

func (w failWriter) Write(b []byte) (int, error) { return 0, w.err }

func TestWriteFull(t *testing.T) {
	t.Run("short writes are retried", func(t *testing.T) {
		w := &chunkWriter{max: 7}
		b := make([]byte, 100)
		for i := range b {
			b[i] = byte(i)
		}
		require.NoError(t, WriteFull(w, b))
		assert.Equal(t, b, w.got)
	})

	t.Run("no progress is fatal", func(t *testing.T) {
		assert.ErrorIs(t, WriteFull(stuckWriter{}, []byte{1}), io.ErrShortWrite)
	})

	t.Run("hard failure", func(t *testing.T) {
		assert.ErrorIs(t, WriteFull(failWriter{syscall.EIO}, []byte{1}), syscall.EIO)
	})
}

func TestIoctlNumbers(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("request codes below are for 64-bit platforms")
	}
	assert.Equal(t, uintptr(208), unsafe.Sizeof(v4l2Format{}))
	assert.Equal(t, uintptr(0x80685600), vidiocQueryCap)
	assert.Equal(t, uintptr(0xc0d05605), vidiocSFmt)
	assert.Equal(t, uintptr(0x40045612), vidiocStreamOn)
	assert.Equal(t, uintptr(0x40045613), vidiocStreamOff)
	assert.Equal(t, uint32(0x56595559), PixFmtYUYV)
}

func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func tempDevice(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "video9")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	return p
}

type fakeDriver struct {
	calls     []uintptr
	fail      map[uintptr]error
	answerFmt func(*v4l2Format)
}

func (d *fakeDriver) install(t *testing.T) {
	orig := ioctl
	t.Cleanup(func() { ioctl = orig })
	ioctl = func(fd int, req uintptr, arg unsafe.Pointer) error {
		d.calls = append(d.calls, req)
		if err := d.fail[req]; err != nil {
			return err
		}
		switch req {
		case vidiocQueryCap:
			c := (*v4l2Capability)(arg)
			copy(c.Driver[:], "v4l2 loopback")
			c.Capabilities = capVideoOutput
		case vidiocSFmt:
			if d.answerFmt != nil {
				d.answerFmt((*v4l2Format)(arg))
			}
		}
		return nil
	}
}

func TestOpenFailures(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"), vga)
		assert.True(t, util.IsKind(err, util.KindDeviceOpen), "%v", err)
	})

	t.Run("not a video device", func(t *testing.T) {
		p := tempDevice(t)
		before := openFDs(t)
		_, err := Open(p, vga)
		assert.True(t, util.IsKind(err, util.KindDeviceOpen), "%v", err)
		assert.Equal(t, before, openFDs(t), "descriptor leaked")
	})

	t.Run("odd width", func(t *testing.T) {
		_, err := Open(tempDevice(t), frame.Geometry{Width: 641, Height: 480})
		assert.True(t, util.IsKind(err, util.KindConfiguration))
	})

	t.Run("format rejected", func(t *testing.T) {
		d := &fakeDriver{fail: map[uintptr]error{vidiocSFmt: syscall.EINVAL}}
		d.install(t)
		p := tempDevice(t)
		before := openFDs(t)
		_, err := Open(p, vga)
		assert.True(t, util.IsKind(err, util.KindFormatNegotiation), "%v", err)
		assert.ErrorIs(t, err, syscall.EINVAL)
		assert.Equal(t, before, openFDs(t))
		assert.NotContains(t, d.calls, vidiocStreamOn)
	})

	t.Run("format adjusted by driver", func(t *testing.T) {
		d := &fakeDriver{answerFmt: func(f *v4l2Format) { f.Fmt.Pix.Width = 320 }}
		d.install(t)
		_, err := Open(tempDevice(t), vga)
		assert.True(t, util.IsKind(err, util.KindFormatNegotiation), "%v", err)
	})

	t.Run("stream on fails", func(t *testing.T) {
		d := &fakeDriver{fail: map[uintptr]error{vidiocStreamOn: syscall.EBUSY}}
		d.install(t)
		p := tempDevice(t)
		before := openFDs(t)
		_, err := Open(p, vga)
		assert.True(t, util.IsKind(err, util.KindStreamStart), "%v", err)
		assert.Equal(t, before, openFDs(t))
	})
}

func TestDeviceLifecycle(t *testing.T) {
	d := &fakeDriver{}
	d.install(t)
	p := tempDevice(t)
	before := openFDs(t)

	dev, err := Open(p, vga)
	require.NoError(t, err)
	assert.Equal(t, []uintptr{vidiocQueryCap, vidiocSFmt, vidiocStreamOn}, d.calls)
	assert.Equal(t, "v4l2 loopback", dev.Driver)
	assert.Equal(t, 640*480*2, dev.FrameSize())

	buf := make([]byte, dev.FrameSize())
	buf[0], buf[len(buf)-1] = 0xaa, 0x55
	require.NoError(t, dev.WriteFrame(buf))

	err = dev.WriteFrame(buf[:10])
	assert.True(t, util.IsKind(err, util.KindWrite))

	require.NoError(t, dev.Close())
	assert.Equal(t, vidiocStreamOff, d.calls[len(d.calls)-1])
	assert.Equal(t, before, openFDs(t))
	assert.NoError(t, dev.Close(), "second close is a no-op")

	err = dev.WriteFrame(buf)
	assert.True(t, util.IsKind(err, util.KindWrite))

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestCloseReleasesHandleWhenStreamOffFails(t *testing.T) {
	d := &fakeDriver{}
	d.install(t)
	p := tempDevice(t)
	before := openFDs(t)

	dev, err := Open(p, vga)
	require.NoError(t, err)
	d.fail = map[uintptr]error{vidiocStreamOff: syscall.EIO}

	err = dev.Close()
	assert.True(t, errors.Is(err, syscall.EIO))
	assert.Equal(t, before, openFDs(t))
}
