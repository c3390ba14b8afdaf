package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level metrics, registered once in init(). Job counters carry
// a "kind" label so SCRAPE and LABEL are distinguishable.
var (
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_enqueued_total",
		Help: "Total number of jobs enqueued, by kind.",
	}, []string{"kind"})
	JobsReserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_reserved_total",
		Help: "Total number of jobs reserved by a worker, by kind.",
	}, []string{"kind"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_completed_total",
		Help: "Total number of jobs that completed successfully, by kind.",
	}, []string{"kind"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_failed_total",
		Help: "Total number of job attempts that failed, by kind and error class.",
	}, []string{"kind", "class"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_retried_total",
		Help: "Total number of job attempts requeued for retry, by kind.",
	}, []string{"kind"})
	JobsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_dead_lettered_total",
		Help: "Total number of jobs moved to the dead letter queue, by kind.",
	}, []string{"kind"})
	JobsStalled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_stalled_total",
		Help: "Total number of reservations that lapsed without a heartbeat, by kind.",
	}, []string{"kind"})
	JobProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_job_processing_duration_seconds",
		Help:    "Histogram of job processing durations, by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_length",
		Help: "Current number of a kind's jobs in each queue state, by kind and state.",
	}, []string{"kind", "state"})
	DeadLetterLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_dead_letter_length",
		Help: "Current length of a kind's dead letter queue.",
	}, []string{"kind"})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open, by dependency.",
	}, []string{"dependency"})
	RateLimiterTokens = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_rate_limiter_tokens_available",
		Help: "Approximate tokens available in a kind's rate limiter bucket.",
	}, []string{"kind"})
	WorkerActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_worker_active",
		Help: "Number of active worker goroutines, by kind.",
	}, []string{"kind"})
	HealthStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_dependency_health",
		Help: "0 unhealthy, 1 degraded, 2 healthy, by dependency.",
	}, []string{"dependency"})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsReserved, JobsCompleted, JobsFailed, JobsRetried,
		JobsDeadLettered, JobsStalled, JobProcessingDuration, QueueLength,
		DeadLetterLength, CircuitBreakerState, RateLimiterTokens, WorkerActive,
		HealthStatus,
	)
}

// StartMetricsServer exposes /metrics and returns the *http.Server for
// controlled shutdown.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
