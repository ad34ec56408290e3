package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmjobs_jobs_submitted_total",
		Help: "Total number of jobs submitted",
	}, []string{"job_type"})

	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmjobs_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	}, []string{"job_type"})

	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmjobs_jobs_failed_total",
		Help: "Total number of jobs that failed",
	}, []string{"job_type"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lmjobs_job_processing_duration_seconds",
		Help:    "Time taken to process jobs in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"job_type"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lmjobs_active_workers",
		Help: "Current number of workers executing a job",
	})

	QueueNotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmjobs_queue_notify_failures_total",
		Help: "Queue pushes that failed after the job row was written",
	}, []string{"job_type"})

	DuplicateClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmjobs_duplicate_claims_total",
		Help: "Queue messages dropped because the job was no longer pending",
	}, []string{"job_type"})

	IndexFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lmjobs_index_failures_total",
		Help: "Completed transcripts that could not be indexed",
	})

	LeasesExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmjobs_leases_expired_total",
		Help: "Processing jobs failed by the sweeper after their lease ran out",
	}, []string{"job_type"})

	JobsRenotified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lmjobs_jobs_renotified_total",
		Help: "Stale pending jobs pushed to the queue again",
	}, []string{"job_type"})
)
