// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FieldResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formfill_field_resolutions_total",
			Help: "Field resolutions by outcome and error code",
		},
		[]string{"outcome", "error_code"},
	)

	FieldResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formfill_field_resolution_duration_seconds",
			Help:    "Wall time of one field resolution including remote polling",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		},
		[]string{"outcome"},
	)

	FallbackExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formfill_fallback_extractions_total",
			Help: "Replies that needed regex fallback extraction, by matched pattern",
		},
		[]string{"pattern"},
	)

	AssistantRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formfill_assistant_requests_total",
			Help: "Calls against the assistant API by operation and result",
		},
		[]string{"operation", "result"},
	)

	AssistantRunPolls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formfill_assistant_run_polls",
			Help:    "Number of status polls until a run reached its final state",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30, 60, 90},
		},
		[]string{"final_state"},
	)

	BatchesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formfill_batches_completed_total",
			Help: "Completed batches by result",
		},
		[]string{"result"},
	)

	BatchFields = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "formfill_batch_fields",
			Help:    "Number of fields per batch",
			Buckets: prometheus.LinearBuckets(5, 5, 10),
		},
	)

	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "formfill_progress_subscribers",
			Help: "Open WebSocket progress subscriptions",
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)
