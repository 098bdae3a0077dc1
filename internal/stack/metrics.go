package stack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spinn_forward_passes_total",
		Help: "Total number of completed forward passes",
	})

	forwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spinn_forward_duration_seconds",
		Help:    "Time spent in a full forward pass",
		Buckets: prometheus.DefBuckets,
	})
)
