package entitystore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityrag",
		Subsystem: "entitystore",
		Name:      "documents_indexed_total",
		Help:      "Total documents indexed, excluding duplicates.",
	}, []string{"entity"})

	documentsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityrag",
		Subsystem: "entitystore",
		Name:      "documents_deleted_total",
		Help:      "Total documents deleted.",
	}, []string{"entity"})

	chunksIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityrag",
		Subsystem: "entitystore",
		Name:      "chunks_indexed_total",
		Help:      "Total chunks indexed, excluding duplicates.",
	}, []string{"entity"})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "entityrag",
		Subsystem: "entitystore",
		Name:      "search_duration_seconds",
		Help:      "Duration of entity searches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"entity"})

	cachedStores = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "entityrag",
		Subsystem: "entitystore",
		Name:      "cached_stores",
		Help:      "Entity stores currently held in the manager cache.",
	})

	parallelTaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entityrag",
		Subsystem: "entitystore",
		Name:      "parallel_task_failures_total",
		Help:      "Failed tasks in parallel bulk operations, by operation.",
	}, []string{"operation"})
)
