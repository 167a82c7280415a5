package source

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"backdrop/util"
	"backdrop/video/compose"
	"backdrop/video/frame"
)

// Background serves a still image, or the frames of a looping video, cropped
// and scaled to whatever geometry is asked for.
type Background struct {
	Path string

	mu      sync.Mutex
	native  frame.Frame
	seq     uint64
	err     error
	scaled  frame.Frame
	scaledN uint64
	scaler  *compose.CropScaler
	from    frame.Geometry

	vc   *gocv.VideoCapture
	stop *util.Event
	done *util.Event
}

// OpenBackground loads path as an image, falling back to a video (file or
// stream URL) that is decoded on its own goroutine at its native rate.
func OpenBackground(path string) (*Background, error) {
	b := &Background{Path: path, stop: util.NewEvent(), done: util.NewEvent()}

	img := gocv.IMRead(path, gocv.IMReadColor)
	if !img.Empty() {
		defer img.Close()
		if err := ToFrame(img, &b.native); err != nil {
			return nil, util.Wrap(util.KindBackgroundUnavailable, "load background "+path, err)
		}
		b.seq = 1
		b.done.Notify()
		log.WithFields(log.Fields{"path": path, "geometry": b.native.Geometry().String()}).Info("Loaded background image")
		return b, nil
	}
	img.Close()

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, util.Wrap(util.KindBackgroundUnavailable, "load background "+path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, util.Errorf(util.KindBackgroundUnavailable, "load background "+path, "not an image or video")
	}
	b.vc = vc
	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || fps > 120 {
		fps = 30
	}
	log.WithFields(log.Fields{"path": path, "fps": fps}).Info("Playing background video")
	go b.loop(time.Duration(float64(time.Second) / fps))
	return b, nil
}

func (b *Background) loop(period time.Duration) {
	defer b.done.Notify()
	m := gocv.NewMat()
	defer m.Close()

	var f frame.Frame
	tick := time.NewTicker(period)
	defer tick.Stop()
	rewound := false
	for {
		select {
		case <-b.stop.Done():
			return
		case <-tick.C:
		}
		if ok := b.vc.Read(&m); !ok || m.Empty() {
			if rewound {
				// Nothing readable even from the start.
				b.setErr(util.Errorf(util.KindBackgroundUnavailable, "read background "+b.Path, "no frames"))
				return
			}
			b.vc.Set(gocv.VideoCapturePosFrames, 0)
			rewound = true
			continue
		}
		rewound = false
		if err := ToFrame(m, &f); err != nil {
			b.setErr(util.Wrap(util.KindBackgroundUnavailable, "read background "+b.Path, err))
			return
		}
		b.mu.Lock()
		b.native.CopyFrom(&f)
		b.seq++
		b.mu.Unlock()
	}
}

func (b *Background) setErr(err error) {
	log.Warnf("Background video stopped: %v", err)
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Next writes the current background frame at geometry g into dst.
func (b *Background) Next(g frame.Geometry, dst *frame.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.seq == 0 {
		return util.Errorf(util.KindBackgroundUnavailable, "background "+b.Path, "no frame decoded yet")
	}
	if b.scaler == nil || b.scaler.Target != g || b.from != b.native.Geometry() {
		b.from = b.native.Geometry()
		b.scaler = compose.NewCropScaler(b.from, g)
		b.scaledN = 0
	}
	if b.scaledN != b.seq {
		if err := b.scaler.Apply(&b.scaled, &b.native); err != nil {
			return util.Wrap(util.KindBackgroundUnavailable, "background "+b.Path, err)
		}
		b.scaledN = b.seq
	}
	dst.CopyFrom(&b.scaled)
	return nil
}

// Thumbnail copies the current frame at its native geometry.
func (b *Background) Thumbnail(dst *frame.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq == 0 || b.err != nil {
		return false
	}
	dst.CopyFrom(&b.native)
	return true
}

func (b *Background) Close() error {
	b.stop.Notify()
	b.done.Wait()
	if b.vc != nil {
		return b.vc.Close()
	}
	return nil
}
