// Package video drives the compositing loop: capture, crop/scale, hand the
// frame to the mask engine, blend with the latest mask, mirror, pack to YUYV
// and write to the loopback device.
package video

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"backdrop/util"
	"backdrop/video/compose"
	"backdrop/video/frame"
	"backdrop/video/mask"
)

// Capture is the camera. Read blocks until the next frame is available; an
// empty frame signals a transient glitch, an error is fatal.
type Capture interface {
	Read(dst *frame.Frame) error
	Geometry() frame.Geometry
	FPS() int
}

// Background supplies frames to composite behind the subject. Next returns
// an error while no frame is available.
type Background interface {
	Next(g frame.Geometry, dst *frame.Frame) error
	Thumbnail(dst *frame.Frame) bool
}

// Blurrer smooths a frame in place. Strength is an odd kernel size.
type Blurrer interface {
	Blur(f *frame.Frame, strength int) error
}

// Output receives one packed YUYV frame per call.
type Output interface {
	WriteFrame(b []byte) error
}

// MaskEngine is satisfied by *mask.Engine.
type MaskEngine interface {
	SubmitFrame(f *frame.Frame) uint64
	FetchMask(dst *frame.Mask) (uint64, bool)
	Err() error
	Stats() mask.Stats
}

// Preview receives every written frame. Put must not block and must not
// retain its arguments.
type Preview interface {
	Put(yuyv []byte, g frame.Geometry, m *frame.Mask, st Status)
}

// Toggles are the switches that may change while streaming.
type Toggles struct {
	Filter         bool `json:"filter"`
	FlipHorizontal bool `json:"flip_horizontal"`
	FlipVertical   bool `json:"flip_vertical"`
	ShowMask       bool `json:"show_mask"`
	ShowBackground bool `json:"show_background"`
	ShowFPS        bool `json:"show_fps"`
}

type Options struct {
	Capture    Capture
	Output     Output
	Engine     MaskEngine
	Background Background // optional
	Blur       Blurrer    // required when BlurStrength > 0
	Preview    Preview    // optional

	// OutputGeometry defaults to the capture geometry with an even width.
	OutputGeometry frame.Geometry
	MaxFPS         int
	BlurStrength   int
	Delayed        bool
	DebugTiming    bool

	// Toggles is polled once per frame. When nil, the filter is on and
	// Flip* below apply.
	Toggles        func() Toggles
	FlipHorizontal bool
	FlipVertical   bool

	Session string
	Now     func() time.Time
}

// Status is a snapshot for the HTTP and preview surfaces.
type Status struct {
	Session    string         `json:"session"`
	Capture    frame.Geometry `json:"capture"`
	Output     frame.Geometry `json:"output"`
	CaptureFPS int            `json:"capture_fps"`
	Divisor    int            `json:"divisor"`
	Processed  uint64         `json:"processed"`
	Skipped    uint64         `json:"skipped"`
	Glitches   uint64         `json:"glitches"`
	Submitted  uint64         `json:"submitted"`
	MaskSeq    uint64         `json:"mask_seq"`
	Staleness  uint64         `json:"staleness"`
	MaskFPS    float64        `json:"mask_fps"`
	Timing     TimingSummary  `json:"timing"`
	Toggles    Toggles        `json:"toggles"`
}

// Pipeline is the orchestrator. Step and Run must be called from a single
// goroutine; Status and Done are safe from any.
type Pipeline struct {
	opts    Options
	capGeo  frame.Geometry
	outGeo  frame.Geometry
	divisor int
	skip    int
	now     func() time.Time

	scaler *compose.CropScaler
	direct bool
	capBuf frame.Frame

	// Ping-pong buffers at output geometry. raw[idx] is the frame being
	// displayed; in delayed mode the other slot holds the frame just
	// submitted.
	raw    [2]frame.Frame
	idx    int
	primed bool

	mask   *frame.Mask
	solid  *frame.Frame
	bgBuf  frame.Frame
	bgDown bool
	yuyv   []byte

	submitted uint64
	maskSeq   uint64
	last      time.Time
	timing    *Timing
	lastLog   time.Time

	processed, skipped, glitches atomic.Uint64

	statusMu sync.RWMutex
	status   Status

	stopped *util.Event
}

// New sets up the pipeline. Geometry checks that need both the negotiated
// capture geometry and the output geometry happen here, once.
func New(opts Options) (*Pipeline, error) {
	if opts.Capture == nil || opts.Output == nil || opts.Engine == nil {
		return nil, util.Errorf(util.KindConfiguration, "pipeline", "capture, output and mask engine are required")
	}
	if opts.BlurStrength < 0 || (opts.BlurStrength > 0 && opts.BlurStrength%2 == 0) {
		return nil, util.Errorf(util.KindConfiguration, "pipeline", "blur strength %d must be odd and positive", opts.BlurStrength)
	}
	if opts.BlurStrength > 0 && opts.Blur == nil {
		return nil, util.Errorf(util.KindConfiguration, "pipeline", "blur strength set without a blurrer")
	}
	capGeo := opts.Capture.Geometry()
	if capGeo.Empty() {
		return nil, util.Errorf(util.KindConfiguration, "pipeline", "capture geometry %v", capGeo)
	}
	outGeo := opts.OutputGeometry
	if outGeo.Empty() {
		outGeo = capGeo
	}
	outGeo = outGeo.Even()

	if compose.AspectMismatch(capGeo, outGeo) {
		log.WithFields(log.Fields{"capture": capGeo.String(), "output": outGeo.String()}).
			Warn("Virtual camera aspect ratio does not match capture device")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	p := &Pipeline{
		opts:    opts,
		capGeo:  capGeo,
		outGeo:  outGeo,
		divisor: Divisor(opts.Capture.FPS(), opts.MaxFPS),
		now:     now,
		scaler:  compose.NewCropScaler(capGeo, outGeo),
		mask:    frame.NewMask(outGeo),
		solid:   frame.New(outGeo),
		timing:  NewTiming(64),
		stopped: util.NewEvent(),
	}
	p.skip = p.divisor
	p.direct = capGeo == outGeo
	// Default green screen.
	p.solid.Fill(0, 255, 0)
	for i := range p.raw {
		p.raw[i].Resize(outGeo)
	}
	if r := p.scaler.Region; !r.Empty() && r.Geometry() != capGeo {
		log.WithField("region", p.scaler.Region.String()).Info("Cropping capture to output aspect ratio")
	}
	p.status = Status{
		Session:    opts.Session,
		Capture:    capGeo,
		Output:     outGeo,
		CaptureFPS: opts.Capture.FPS(),
		Divisor:    p.divisor,
	}
	return p, nil
}

// Divisor returns how many capture ticks make one processed frame so that
// native fps is capped at max fps.
func Divisor(nativeFPS, maxFPS int) int {
	if maxFPS <= 0 || nativeFPS <= maxFPS {
		return 1
	}
	return (nativeFPS + maxFPS - 1) / maxFPS
}

func (p *Pipeline) OutputGeometry() frame.Geometry {
	return p.outGeo
}

func (p *Pipeline) Divisor() int {
	return p.divisor
}

func (p *Pipeline) toggles() Toggles {
	if p.opts.Toggles != nil {
		return p.opts.Toggles()
	}
	return Toggles{
		Filter:         true,
		FlipHorizontal: p.opts.FlipHorizontal,
		FlipVertical:   p.opts.FlipVertical,
	}
}

// Run steps until ctx is cancelled or a fatal error occurs.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.stopped.Notify()
	p.last = p.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := p.opts.Engine.Err(); err != nil {
			return err
		}
		if _, err := p.Step(); err != nil {
			return err
		}
	}
}

// Done is closed when Run returns.
func (p *Pipeline) Done() <-chan struct{} {
	return p.stopped.Done()
}

// Step runs one capture tick. It reports whether a frame was written.
func (p *Pipeline) Step() (bool, error) {
	var ts TimingSample
	ts.Last = p.last

	in := &p.capBuf
	if p.direct {
		in = &p.raw[p.idx]
	}
	if err := p.opts.Capture.Read(in); err != nil {
		if util.KindOf(err) == util.KindUnknown {
			err = util.Wrap(util.KindCapture, "read frame", err)
		}
		return false, err
	}
	ts.Grab = p.now()

	if in.Empty() {
		p.glitches.Add(1)
		framesTotal.WithLabelValues("glitch").Inc()
		return false, nil
	}
	if p.skip < p.divisor {
		p.skip++
		p.skipped.Add(1)
		framesTotal.WithLabelValues("skipped").Inc()
		return false, nil
	}
	p.skip = 1

	cur := &p.raw[p.idx]
	if !p.direct {
		if err := p.scaler.Apply(cur, in); err != nil {
			return false, err
		}
	} else if in.Geometry() != p.outGeo {
		return false, util.Errorf(util.KindCapture, "read frame", "frame %v, negotiated %v", in.Geometry(), p.outGeo)
	}

	if p.opts.Delayed && !p.primed {
		// First frame only: there is no previous frame to show yet.
		p.raw[p.idx^1].CopyFrom(cur)
		p.primed = true
	}

	p.submitted = p.opts.Engine.SubmitFrame(cur)
	ts.Copy = p.now()

	if p.opts.Delayed {
		p.idx ^= 1
		cur = &p.raw[p.idx]
	}

	if seq, ok := p.opts.Engine.FetchMask(p.mask); ok {
		p.maskSeq = seq
	}
	ts.Fetch = p.now()

	tg := p.toggles()
	if tg.Filter {
		bg := p.background(cur)
		ts.Prep = p.now()
		if err := compose.Blend(cur, bg, cur, p.mask); err != nil {
			return false, err
		}
	} else {
		ts.Prep = p.now()
	}
	ts.Mask = p.now()

	compose.FlipInPlace(cur, tg.FlipHorizontal, tg.FlipVertical)
	ts.Post = p.now()

	var err error
	if p.yuyv, err = compose.PackYUYV(p.yuyv, cur); err != nil {
		return false, err
	}
	if err := p.opts.Output.WriteFrame(p.yuyv); err != nil {
		if util.KindOf(err) == util.KindUnknown {
			err = util.Wrap(util.KindWrite, "write frame", err)
		}
		return false, err
	}
	ts.Write = p.now()
	p.last = ts.Write
	p.processed.Add(1)
	framesTotal.WithLabelValues("processed").Inc()

	p.observe(ts, tg)
	return true, nil
}

// background picks the frame to composite behind the subject: the
// configured source, else a live copy of the frame when blurring, else
// solid green. Only real image content is blurred.
func (p *Pipeline) background(cur *frame.Frame) *frame.Frame {
	bg := p.solid
	canBlur := false
	if p.opts.Background != nil {
		err := p.opts.Background.Next(p.outGeo, &p.bgBuf)
		if err == nil && p.bgBuf.Geometry() != p.outGeo {
			err = util.Errorf(util.KindBackgroundUnavailable, "background", "frame %v, want %v", p.bgBuf.Geometry(), p.outGeo)
		}
		if err != nil {
			if !p.bgDown {
				log.Warnf("Background unavailable, using solid color: %v", err)
				p.bgDown = true
				backgroundFallback.Set(1)
			}
		} else {
			if p.bgDown {
				log.Info("Background available again")
				p.bgDown = false
				backgroundFallback.Set(0)
			}
			bg = &p.bgBuf
			canBlur = true
		}
	} else if p.opts.BlurStrength > 0 {
		p.bgBuf.CopyFrom(cur)
		bg = &p.bgBuf
		canBlur = true
	}
	if canBlur && p.opts.BlurStrength > 0 {
		if err := p.opts.Blur.Blur(bg, p.opts.BlurStrength); err != nil {
			log.Warnf("Background blur failed: %v", err)
		}
	}
	return bg
}

func (p *Pipeline) observe(ts TimingSample, tg Toggles) {
	p.timing.Add(ts)
	for i, d := range ts.Stages() {
		stageSeconds.WithLabelValues(StageNames[i]).Observe(d.Seconds())
	}
	var staleness uint64
	if p.submitted > p.maskSeq {
		staleness = p.submitted - p.maskSeq
	}
	maskStaleness.Set(float64(staleness))

	es := p.opts.Engine.Stats()
	inferSeconds.Set(es.Infer.Seconds())
	maskDropped.Set(float64(es.Dropped))
	var maskFPS float64
	if es.Loop > 0 {
		maskFPS = float64(time.Second) / float64(es.Loop)
	}
	summary := p.timing.Summary()

	p.statusMu.Lock()
	p.status.Submitted = p.submitted
	p.status.MaskSeq = p.maskSeq
	p.status.Staleness = staleness
	p.status.MaskFPS = maskFPS
	p.status.Timing = summary
	p.status.Toggles = tg
	p.statusMu.Unlock()
	st := p.Status()

	if p.opts.Preview != nil {
		p.opts.Preview.Put(p.yuyv, p.outGeo, p.mask, st)
	}

	if p.opts.DebugTiming && ts.Write.Sub(p.lastLog) >= time.Second {
		p.lastLog = ts.Write
		fields := log.Fields{
			"main_fps":  round2(summary.MainFPS),
			"mask_fps":  round2(maskFPS),
			"staleness": staleness,
			"wait_ms":   round2(ms(es.Wait)),
			"infer_ms":  round2(ms(es.Infer)),
		}
		for name, s := range summary.Stages {
			fields[name+"_ms"] = round2(s.MeanMs)
		}
		log.WithFields(fields).Info("Timing")
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func (p *Pipeline) Status() Status {
	p.statusMu.RLock()
	st := p.status
	p.statusMu.RUnlock()
	st.Processed = p.processed.Load()
	st.Skipped = p.skipped.Load()
	st.Glitches = p.glitches.Load()
	return st
}
