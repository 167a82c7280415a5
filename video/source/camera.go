package source

import (
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"backdrop/util"
	"backdrop/video/frame"
)

// Camera reads BGR frames from a capture device.
type Camera struct {
	Path string

	vc       *gocv.VideoCapture
	mat      gocv.Mat
	geo      frame.Geometry
	fps      int
	failures int
}

// OpenCamera opens the device and requests the given geometry. The pixel
// format, when non-zero, is set first since some drivers only offer large
// geometries in compressed formats. The geometry actually negotiated is
// read back.
func OpenCamera(path string, want frame.Geometry, fourcc uint32) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, util.Wrap(util.KindDeviceOpen, "open camera "+path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, util.Errorf(util.KindDeviceOpen, "open camera "+path, "device did not open")
	}
	if fourcc != 0 {
		vc.Set(gocv.VideoCaptureFOURCC, float64(fourcc))
	}
	if !want.Empty() {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(want.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(want.Height))
	}
	vc.Set(gocv.VideoCaptureConvertRGB, 1)

	c := &Camera{
		Path: path,
		vc:   vc,
		mat:  gocv.NewMat(),
		geo: frame.Geometry{
			Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		},
		fps: int(vc.Get(gocv.VideoCaptureFPS)),
	}
	if c.geo.Empty() {
		c.Close()
		return nil, util.Errorf(util.KindDeviceOpen, "open camera "+path, "device reports geometry %v", c.geo)
	}
	if !want.Empty() && c.geo != want {
		log.WithFields(log.Fields{"device": path, "requested": want.String(), "actual": c.geo.String()}).
			Warn("Capture device did not accept requested geometry")
	}
	log.WithFields(log.Fields{"device": path, "geometry": c.geo.String(), "fps": c.fps}).Info("Opened capture device")
	return c, nil
}

func (c *Camera) Geometry() frame.Geometry {
	return c.geo
}

func (c *Camera) FPS() int {
	return c.fps
}

// Read blocks for the next frame. A failed grab leaves dst empty.
func (c *Camera) Read(dst *frame.Frame) error {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		c.failures++
		if c.failures == 1 || c.failures%100 == 0 {
			log.WithField("device", c.Path).Debugf("Read failure (%d)", c.failures)
		}
		time.Sleep(time.Millisecond)
		dst.Resize(frame.Geometry{})
		return nil
	}
	c.failures = 0
	if err := ToFrame(c.mat, dst); err != nil {
		return util.Wrap(util.KindCapture, "read camera", err)
	}
	return nil
}

func (c *Camera) Close() error {
	c.mat.Close()
	return c.vc.Close()
}
