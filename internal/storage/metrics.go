// Package storage provides Prometheus metrics for collection operations.
package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scatterLoads counts queries that could not be routed to specific
	// shards and had to load every shard file of a collection.
	scatterLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entityrag",
			Subsystem: "storage",
			Name:      "scatter_loads_total",
			Help:      "Total number of full-collection scatter loads by collection",
		},
		[]string{"collection"},
	)

	// upserts counts records inserted through upsert.
	upserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entityrag",
			Subsystem: "storage",
			Name:      "upserts_total",
			Help:      "Total number of upsert-inserted records by collection",
		},
		[]string{"collection"},
	)

	// readDuration tracks how long collection reads take.
	readDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "entityrag",
			Subsystem: "storage",
			Name:      "read_duration_seconds",
			Help:      "Duration of collection read operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// writeDuration tracks how long collection mutations take.
	writeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "entityrag",
			Subsystem: "storage",
			Name:      "write_duration_seconds",
			Help:      "Duration of collection mutation operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection"},
	)
)
