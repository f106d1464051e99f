// Package metrics exposes the swap pipeline's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SwapOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakeshift_swaps_total", Help: "Completed swap attempts by outcome and mode.",
	}, []string{"outcome", "mode"})

	SwapDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lakeshift_swap_duration_seconds",
		Help:    "Wall-clock duration of swap attempts.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	SwapsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lakeshift_swaps_inflight", Help: "Swaps currently running in this process.",
	})

	RowsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakeshift_rows_read_total", Help: "Source rows decoded before sampling.",
	})
	RowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakeshift_rows_written_total", Help: "Rows written to generation directories.",
	})

	PartitionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakeshift_partitions_deleted_total", Help: "Target partitions deleted during reconciliation.",
	})
	PartitionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakeshift_partitions_created_total", Help: "Target partitions created during reconciliation.",
	})

	CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakeshift_cleanup_failures_total", Help: "Swaps that completed but left their staging table behind.",
	})
	StaleStagingDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakeshift_stale_staging_dropped_total", Help: "Abandoned staging tables removed by the pre-swap sweep.",
	})
)
