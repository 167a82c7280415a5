// Package mask runs segmentation on a dedicated goroutine, decoupled from the
// capture loop by two single-slot mailboxes.
//
// The input mailbox keeps only the most recently submitted frame: a frame
// that the worker has not picked up yet is overwritten by the next
// submission. The output mailbox holds the most recently completed mask;
// fetching is non-blocking and leaves the caller's buffer alone when nothing
// new is available.
//
// Each mailbox has its own mutex and no goroutine ever holds both.
package mask

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"backdrop/util"
	"backdrop/video/frame"
)

// Segmenter maps one frame to one mask of the same geometry. It is only ever
// called from the engine's worker goroutine. A Segmenter that also implements
// io.Closer is closed when the engine stops.
type Segmenter interface {
	Segment(in *frame.Frame, out *frame.Mask) error
}

// SegmenterFunc adapts a function to the Segmenter interface.
type SegmenterFunc func(in *frame.Frame, out *frame.Mask) error

func (f SegmenterFunc) Segment(in *frame.Frame, out *frame.Mask) error {
	return f(in, out)
}

type State int32

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Stats are cumulative counters and the durations of the last worker loop.
type Stats struct {
	Submitted uint64
	Dropped   uint64
	Processed uint64

	Wait  time.Duration
	Infer time.Duration
	Loop  time.Duration
}

type Engine struct {
	seg      Segmenter
	geometry frame.Geometry
	state    atomic.Int32

	// Input mailbox. The worker owns frames[current]; frames[next] belongs
	// to whoever holds inMu.
	inMu          sync.Mutex
	inCond        *sync.Cond
	frames        [2]frame.Frame
	next, current int
	pending       bool
	seq, nextSeq  uint64
	dropped       uint64

	// Output mailbox. The worker owns masks[working]; masks[out] belongs to
	// whoever holds outMu.
	outMu        sync.Mutex
	masks        [2]frame.Mask
	working, out int
	outSeq       uint64
	ready        bool

	processed atomic.Uint64
	waitNs    atomic.Int64
	inferNs   atomic.Int64
	loopNs    atomic.Int64

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once
}

// New starts the worker. Frames submitted must be of geometry g; masks are
// produced at the same geometry.
func New(seg Segmenter, g frame.Geometry) *Engine {
	e := &Engine{
		seg:      seg,
		geometry: g,
		next:     0,
		current:  1,
		working:  0,
		out:      1,
		done:     make(chan struct{}),
	}
	e.inCond = sync.NewCond(&e.inMu)
	for i := range e.frames {
		e.frames[i].Resize(g)
		e.masks[i].Resize(g)
	}
	e.state.Store(int32(Running))
	go e.run()
	return e
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) Geometry() frame.Geometry {
	return e.geometry
}

// SubmitFrame copies f into the input mailbox and wakes the worker. It never
// waits for inference. The returned sequence number identifies the frame in
// masks fetched later; 0 means the engine is stopped.
func (e *Engine) SubmitFrame(f *frame.Frame) uint64 {
	e.inMu.Lock()
	defer e.inMu.Unlock()
	if e.State() != Running {
		return 0
	}
	if e.pending {
		e.dropped++
	}
	e.frames[e.next].CopyFrom(f)
	e.seq++
	e.nextSeq = e.seq
	e.pending = true
	e.inCond.Signal()
	return e.seq
}

// FetchMask copies the latest completed mask into dst if one arrived since
// the previous fetch. Otherwise dst is left untouched and ok is false.
func (e *Engine) FetchMask(dst *frame.Mask) (seq uint64, ok bool) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if !e.ready {
		return e.outSeq, false
	}
	dst.CopyFrom(&e.masks[e.out])
	e.ready = false
	return e.outSeq, true
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		tloop := time.Now()

		e.inMu.Lock()
		for !e.pending && e.State() == Running {
			e.inCond.Wait()
		}
		if e.State() != Running {
			e.inMu.Unlock()
			return
		}
		e.next, e.current = e.current, e.next
		seq := e.nextSeq
		e.pending = false
		e.inMu.Unlock()

		t0 := time.Now()
		e.waitNs.Store(int64(t0.Sub(tloop)))

		m := &e.masks[e.working]
		if err := e.seg.Segment(&e.frames[e.current], m); err != nil {
			e.fail(util.Wrap(util.KindInference, "segment frame", err))
			return
		}
		if m.Geometry() != e.geometry {
			e.fail(util.Errorf(util.KindInference, "segment frame", "mask %v, want %v", m.Geometry(), e.geometry))
			return
		}
		e.inferNs.Store(int64(time.Since(t0)))

		e.outMu.Lock()
		e.working, e.out = e.out, e.working
		e.outSeq = seq
		e.ready = true
		e.processed.Add(1)
		e.outMu.Unlock()

		e.loopNs.Store(int64(time.Since(tloop)))
	}
}

func (e *Engine) fail(err error) {
	log.Errorf("Mask worker stopped: %v", err)
	e.errMu.Lock()
	e.err = err
	e.errMu.Unlock()
	e.state.Store(int32(Stopped))
}

// Err returns the inference failure that stopped the worker, if any.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Done is closed once the worker goroutine has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) Stats() Stats {
	e.inMu.Lock()
	s := Stats{
		Submitted: e.seq,
		Dropped:   e.dropped,
	}
	e.inMu.Unlock()
	s.Processed = e.processed.Load()
	s.Wait = time.Duration(e.waitNs.Load())
	s.Infer = time.Duration(e.inferNs.Load())
	s.Loop = time.Duration(e.loopNs.Load())
	return s
}

// Close stops the worker, waits for it to exit and releases the segmenter.
// An inference already in progress is allowed to finish.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.state.Store(int32(Stopped))
		e.inMu.Lock()
		e.inCond.Broadcast()
		e.inMu.Unlock()
		<-e.done

		if c, ok := e.seg.(io.Closer); ok {
			err = c.Close()
		}
		if ferr := e.Err(); ferr != nil {
			err = errors.Join(ferr, err)
		}
	})
	return err
}
