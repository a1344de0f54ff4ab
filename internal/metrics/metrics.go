// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carcare_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carcare_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StageDuration times each pipeline stage; diagnosing dominates.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carcare_pipeline_stage_duration_seconds",
			Help:    "Duration of diagnosis pipeline stages.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 60},
		},
		[]string{"kind", "stage"},
	)

	PipelineResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carcare_pipeline_results_total",
			Help: "Finished diagnosis requests by kind, final stage and outcome.",
		},
		[]string{"kind", "stage", "outcome"},
	)

	AIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carcare_ai_retries_total",
		Help: "Retried model calls after transient failures.",
	})

	TutorialLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carcare_tutorial_lookups_total",
			Help: "Tutorial lookups by result: hit, found, none, error.",
		},
		[]string{"result"},
	)

	TranscodeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carcare_transcode_queue_depth",
		Help: "Jobs waiting for a transcode worker.",
	})

	TempFilesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carcare_temp_files_swept_total",
		Help: "Stale temp files removed by the sweeper.",
	})
)
