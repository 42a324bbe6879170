package challenge

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecaptcha_challenges_issued",
		Help: "The number of challenges issued, by shape",
	}, []string{"shape"})

	consumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecaptcha_challenges_consumed",
		Help: "The number of challenges redeemed by a trace attempt, by shape",
	}, []string{"shape"})

	expired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracecaptcha_challenges_expired",
		Help: "The number of challenges found expired on lookup",
	})

	swept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracecaptcha_challenges_swept",
		Help: "The number of expired store entries removed by the periodic sweep",
	})

	// TimeTaken is the time between issuing a challenge and redeeming it.
	TimeTaken = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracecaptcha_time_taken",
		Help:    "The time taken between issuing a challenge and redeeming it (milliseconds)",
		Buckets: prometheus.ExponentialBucketsRange(1, math.Pow(2, 20), 20),
	}, []string{"shape"})
)
