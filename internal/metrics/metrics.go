package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// CacheLookups counts bounded-cache lookups by cache name and result (hit/miss).
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hexmap",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Bounded cache lookups, labeled by cache name and result.",
	}, []string{"cache", "result"})

	// CacheEvictions counts entries dropped from bounded caches (capacity eviction, removal or purge).
	CacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hexmap",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries dropped from bounded caches by eviction, removal or purge.",
	}, []string{"cache"})

	// AggregationDurationSeconds is the time to build one aggregation on a cache miss.
	AggregationDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hexmap",
		Subsystem: "engine",
		Name:      "aggregation_duration_seconds",
		Help:      "Time spent aggregating the base table to one resolution.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"layer"})

	// DrawsTotal counts draw cycles by outcome (drawn, skipped, cleared).
	DrawsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hexmap",
		Subsystem: "render",
		Name:      "draws_total",
		Help:      "Draw cycles, labeled by outcome.",
	}, []string{"layer", "outcome"})

	// ShapeOpsTotal counts shape pool mutations by kind (create, patch, remove).
	ShapeOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hexmap",
		Subsystem: "render",
		Name:      "shape_ops_total",
		Help:      "Shape pool mutations, labeled by kind.",
	}, []string{"kind"})

	// DatasetRows is the number of base-table rows currently loaded per layer.
	DatasetRows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hexmap",
		Subsystem: "dataset",
		Name:      "base_rows",
		Help:      "Rows in the base table of each loaded layer.",
	}, []string{"layer"})

	// DatasetLoadSeconds is the wall time of the last successful load per layer.
	DatasetLoadSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hexmap",
		Subsystem: "dataset",
		Name:      "load_seconds",
		Help:      "Duration of the last successful dataset load per layer.",
	}, []string{"layer"})

	// DatasetLoadFailures counts failed load attempts per layer.
	DatasetLoadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hexmap",
		Subsystem: "dataset",
		Name:      "load_failures_total",
		Help:      "Failed dataset load attempts per layer.",
	}, []string{"layer"})

	// ActiveSessions is the number of live map sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hexmap",
		Subsystem: "service",
		Name:      "active_sessions",
		Help:      "Map sessions currently held in memory.",
	})
)

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			CacheLookups,
			CacheEvictions,
			AggregationDurationSeconds,
			DrawsTotal,
			ShapeOpsTotal,
			DatasetRows,
			DatasetLoadSeconds,
			DatasetLoadFailures,
			ActiveSessions,
		)
	})
}
