// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestsTotal counts ingest requests by outcome (created, rejected,
	// failed).
	IngestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoomtile_ingests_total",
		Help: "Ingest requests by outcome.",
	}, []string{"outcome"})

	// IngestDuration observes the synchronous ingest phase end to end.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoomtile_ingest_duration_seconds",
		Help:    "Duration of the synchronous ingest phase.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// TilingJobsTotal counts finished tiling jobs by terminal state.
	TilingJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zoomtile_tiling_jobs_total",
		Help: "Tiling jobs by terminal state (done, failed, skipped).",
	}, []string{"state"})

	// TilingDuration observes whole tiling jobs.
	TilingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoomtile_tiling_duration_seconds",
		Help:    "Duration of background tiling jobs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// TilesGenerated counts tiles encoded, compressed and stored.
	TilesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zoomtile_tiles_generated_total",
		Help: "Tiles encoded, compressed and persisted.",
	})
)
