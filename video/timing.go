package video

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// TimingSample brackets the stages of one processed frame. Observability
// only: nothing in the loop reads it back.
type TimingSample struct {
	Last  time.Time // end of the previous frame
	Grab  time.Time
	Copy  time.Time
	Fetch time.Time
	Prep  time.Time
	Mask  time.Time
	Post  time.Time
	Write time.Time
}

// StageNames lists the main loop stages in order.
var StageNames = []string{"grab", "copy", "fetch", "prep", "mask", "post", "v4l2"}

func since(a, b time.Time) time.Duration {
	if a.IsZero() || b.IsZero() || b.Before(a) {
		return 0
	}
	return b.Sub(a)
}

// Stages returns the per-stage durations in StageNames order.
func (s TimingSample) Stages() []time.Duration {
	return []time.Duration{
		since(s.Last, s.Grab),
		since(s.Grab, s.Copy),
		since(s.Copy, s.Fetch),
		since(s.Fetch, s.Prep),
		since(s.Prep, s.Mask),
		since(s.Mask, s.Post),
		since(s.Post, s.Write),
	}
}

// Total is the whole loop, previous write to this write.
func (s TimingSample) Total() time.Duration {
	return since(s.Last, s.Write)
}

// StageStat is a mean and standard deviation in milliseconds.
type StageStat struct {
	MeanMs float64 `json:"mean_ms"`
	StdMs  float64 `json:"std_ms"`
}

type TimingSummary struct {
	Samples int                  `json:"samples"`
	Stages  map[string]StageStat `json:"stages"`
	TotalMs StageStat            `json:"total"`
	MainFPS float64              `json:"main_fps"`
}

// Timing keeps a rolling window of samples.
type Timing struct {
	size   int
	pos    int
	n      int
	stages [][]float64
	total  []float64
}

func NewTiming(window int) *Timing {
	if window < 2 {
		window = 2
	}
	t := &Timing{
		size:   window,
		stages: make([][]float64, len(StageNames)),
		total:  make([]float64, window),
	}
	for i := range t.stages {
		t.stages[i] = make([]float64, window)
	}
	return t
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (t *Timing) Add(s TimingSample) {
	for i, d := range s.Stages() {
		t.stages[i][t.pos] = ms(d)
	}
	t.total[t.pos] = ms(s.Total())
	t.pos = (t.pos + 1) % t.size
	if t.n < t.size {
		t.n++
	}
}

func summarize(x []float64) StageStat {
	switch len(x) {
	case 0:
		return StageStat{}
	case 1:
		return StageStat{MeanMs: x[0]}
	}
	mean, std := stat.MeanStdDev(x, nil)
	return StageStat{MeanMs: mean, StdMs: std}
}

func (t *Timing) Summary() TimingSummary {
	s := TimingSummary{
		Samples: t.n,
		Stages:  make(map[string]StageStat, len(StageNames)),
	}
	for i, name := range StageNames {
		s.Stages[name] = summarize(t.stages[i][:t.n])
	}
	s.TotalMs = summarize(t.total[:t.n])
	if s.TotalMs.MeanMs > 0 {
		s.MainFPS = 1000 / s.TotalMs.MeanMs
	}
	return s
}
