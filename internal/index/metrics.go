package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "entityrag",
		Subsystem: "index",
		Name:      "search_duration_seconds",
		Help:      "Duration of vector index searches.",
		Buckets:   prometheus.DefBuckets,
	})

	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "entityrag",
		Subsystem: "index",
		Name:      "save_duration_seconds",
		Help:      "Duration of index snapshot saves.",
		Buckets:   prometheus.DefBuckets,
	})
)
