// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
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
			Name:    "worker_job_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
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

	EngineSubmitAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfyui_submit_attempts_total",
			Help: "Workflow submission attempts against the rendering engine",
		},
		[]string{"outcome"},
	)

	EngineHistoryPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfyui_history_polls_total",
			Help: "History polls issued while waiting for a prompt",
		},
		[]string{"state"},
	)

	ImagesExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comfyui_images_extracted_total",
			Help: "Images fetched from the engine and encoded for the response",
		},
	)

	ImageFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comfyui_image_fetch_failures_total",
			Help: "Images referenced by an output manifest that could not be fetched",
		},
	)
)
