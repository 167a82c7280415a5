package process

import (
	"fmt"
	"image"
	"image/color"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"backdrop/video"
	"backdrop/video/compose"
	"backdrop/video/frame"
	"backdrop/video/source"
	"backdrop/video/sink"
)

var (
	colorText  = color.RGBA{R: 255, G: 255, A: 255}
	colorFrame = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Thumbnailer supplies the background inset.
type Thumbnailer interface {
	Thumbnail(dst *frame.Frame) bool
}

type previewJob struct {
	yuyv []byte
	geo  frame.Geometry
	mask frame.Mask
	st   video.Status
}

// Preview renders the written frames, with optional mask and background
// insets and a status line, to MJPEG streams "output" and "mask". Rendering
// happens on its own goroutine; frames arriving while it is busy are
// dropped.
type Preview struct {
	out, mask *sink.MJPEGStream
	bg        Thumbnailer

	// Channel for incoming jobs.
	c chan *previewJob
	// Free jobs, for double buffering.
	a chan *previewJob

	img, inset, thumb frame.Frame
	maskImg           frame.Frame
	scale             compose.MaskScaler
	done              chan struct{}
}

func NewPreview(ms *sink.MJPEGServer, bg Thumbnailer) *Preview {
	p := &Preview{
		out:  ms.Stream("output"),
		mask: ms.Stream("mask"),
		bg:   bg,
		c:    make(chan *previewJob),
		a:    make(chan *previewJob, 2),
		done: make(chan struct{}),
	}
	// Fill job buffer.
	p.a <- &previewJob{}
	p.a <- &previewJob{}
	go p.loop()
	return p
}

// Put implements video.Preview.
func (p *Preview) Put(yuyv []byte, g frame.Geometry, m *frame.Mask, st video.Status) {
	if p.out.Listeners() == 0 && p.mask.Listeners() == 0 {
		return
	}
	var j *previewJob
	select {
	case j = <-p.a:
	default:
		return
	}
	j.yuyv = append(j.yuyv[:0], yuyv...)
	j.geo = g
	j.mask.CopyFrom(m)
	j.st = st

	select {
	case p.c <- j:
	default:
		// Allow skipping frames if already processing.
		p.a <- j
	}
}

func (p *Preview) loop() {
	defer close(p.done)
	for j := range p.c {
		if err := p.render(j); err != nil {
			log.Debugf("Preview render failed: %v", err)
		}
		p.a <- j
	}
}

func (p *Preview) render(j *previewJob) error {
	if p.mask.Listeners() > 0 {
		compose.MaskToFrame(&p.maskImg, &j.mask)
		if err := put(p.mask, &p.maskImg, nil); err != nil {
			return err
		}
	}
	if p.out.Listeners() == 0 {
		return nil
	}

	if err := compose.UnpackYUYV(&p.img, j.yuyv, j.geo); err != nil {
		return err
	}
	var boxes []image.Rectangle
	labels := map[image.Point]string{}

	if j.st.Toggles.ShowBackground && p.bg != nil && p.bg.Thumbnail(&p.thumb) {
		if tg, ok := compose.ThumbGeometry(p.thumb.Geometry(), j.geo); ok && tg.Height > 50 {
			if err := compose.NewCropScaler(p.thumb.Geometry(), tg).Apply(&p.inset, &p.thumb); err != nil {
				return err
			}
			if err := compose.Paste(&p.img, &p.inset, image.Point{}); err != nil {
				return err
			}
			boxes = append(boxes, image.Rect(0, 0, tg.Width, tg.Height))
		}
	}
	if j.st.Toggles.ShowMask {
		if tg, ok := compose.ThumbGeometry(j.mask.Geometry(), j.geo); ok {
			var small frame.Mask
			p.scale.Apply(&small, &j.mask, tg)
			compose.MaskToFrame(&p.inset, &small)
			at := image.Point{X: j.geo.Width - tg.Width}
			if err := compose.Paste(&p.img, &p.inset, at); err != nil {
				return err
			}
			boxes = append(boxes, image.Rect(at.X, 0, j.geo.Width, tg.Height))
			labels[image.Point{X: at.X + 5, Y: 15}] = "Mask"
		}
	}
	if j.st.Toggles.ShowFPS {
		labels[image.Point{X: 5, Y: j.geo.Height - 5}] = StatusLine(j.st)
	}

	return put(p.out, &p.img, func(m *gocv.Mat) {
		for _, r := range boxes {
			gocv.Rectangle(m, r, colorFrame, 1)
		}
		for at, text := range labels {
			gocv.PutText(m, text, at, gocv.FontHersheyPlain, 1.0, colorText, 1)
		}
	})
}

// StatusLine is the fps and geometry summary drawn at the bottom.
func StatusLine(st video.Status) string {
	return fmt.Sprintf("MainFPS: %5.2f AiFPS: %5.2f (%s->%s)",
		st.Timing.MainFPS, st.MaskFPS, st.Capture, st.Output)
}

func put(s *sink.MJPEGStream, f *frame.Frame, draw func(m *gocv.Mat)) error {
	m, err := source.FrameMat(f)
	if err != nil {
		return err
	}
	defer m.Close()
	if draw != nil {
		draw(&m)
	}
	s.Put(m)
	return nil
}

var _ video.Preview = (*Preview)(nil)

// Close stops the render goroutine. It must not race with Put.
func (p *Preview) Close() {
	close(p.c)
	<-p.done
	p.out.Close()
	p.mask.Close()
}
