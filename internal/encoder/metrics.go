package encoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	examplesEncoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spinn_examples_encoded_total",
		Help: "Total number of examples evaluated by the stack machine",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spinn_root_cache_hits_total",
		Help: "Total number of root vectors served from the cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spinn_root_cache_misses_total",
		Help: "Total number of root cache misses",
	})
)
