package video

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backdrop",
		Name:      "frames_total",
		Help:      "Capture ticks by outcome.",
	}, []string{"result"})

	stageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backdrop",
		Name:      "stage_seconds",
		Help:      "Main loop stage durations.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"stage"})

	maskStaleness = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backdrop",
		Name:      "mask_staleness_frames",
		Help:      "Frames between the last submitted frame and the frame the current mask was computed from.",
	})

	inferSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backdrop",
		Name:      "mask_inference_seconds",
		Help:      "Duration of the most recent inference.",
	})

	maskDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backdrop",
		Name:      "mask_frames_dropped",
		Help:      "Frames overwritten in the mask input mailbox before inference picked them up.",
	})

	backgroundFallback = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backdrop",
		Name:      "background_fallback",
		Help:      "1 while the configured background is unavailable and the solid color is used.",
	})
)

func init() {
	prometheus.MustRegister(framesTotal, stageSeconds, maskStaleness, inferSeconds, maskDropped, backgroundFallback)
}
