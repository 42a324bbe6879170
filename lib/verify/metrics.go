package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecaptcha_verdicts",
		Help: "The number of verification attempts, by outcome",
	}, []string{"reason"})

	shapeDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracecaptcha_shape_distance",
		Help:    "The aligned RMS distance of completed attempts",
		Buckets: prometheus.LinearBuckets(0, 0.05, 20),
	})

	botScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracecaptcha_bot_score",
		Help:    "The bot score of completed attempts",
		Buckets: prometheus.LinearBuckets(0, 0.5, 16),
	})
)
