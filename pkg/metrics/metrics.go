package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for clearci.
// Using promauto for automatic registration with default registry.
var (
	// --- Execution Metrics ---

	// ExecutionsTotal counts total executions by status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of job executions by status",
		},
		[]string{"status"},
	)

	// ExecutionDuration tracks job execution duration.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clearci",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"job_name", "status"},
	)

	// --- SCM Metrics ---

	// CleartoolInvocations counts cleartool subcommand runs by outcome.
	CleartoolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "cleartool",
			Name:      "invocations_total",
			Help:      "Total cleartool invocations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	// CleartoolDuration tracks how long cleartool subcommands take. Snapshot
	// view updates over a slow VOB can run for minutes, hence the wide buckets.
	CleartoolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clearci",
			Subsystem: "cleartool",
			Name:      "duration_seconds",
			Help:      "Duration of cleartool invocations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms to ~27m
		},
		[]string{"operation"},
	)

	// --- Scheduler Metrics ---

	// SchedulerLag measures delay between scheduled time and actual dispatch.
	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clearci",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled time and actual dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
	)

	// SchedulerPolls counts scheduler poll cycles.
	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of scheduler poll cycles",
		},
	)

	// JobsDispatched counts jobs dispatched per cycle.
	JobsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "scheduler",
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs dispatched",
		},
	)

	// --- Executor Metrics ---

	// ActiveNodes tracks number of active executor nodes.
	ActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clearci",
			Subsystem: "cluster",
			Name:      "active_nodes",
			Help:      "Number of active executor nodes",
		},
	)

	// ExecutorJobsRunning tracks concurrent jobs on executor.
	ExecutorJobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clearci",
			Subsystem: "executor",
			Name:      "jobs_running",
			Help:      "Number of currently running jobs on this executor",
		},
	)

	// HeartbeatsSent counts heartbeats sent by executor.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "executor",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// LogBytesArchived counts console log bytes shipped to the log store.
	LogBytesArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "executor",
			Name:      "log_bytes_archived_total",
			Help:      "Total console log bytes archived to the log store",
		},
	)

	// --- Queue Metrics ---

	// QueueDepth tracks pending executions in the queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clearci",
			Subsystem: "queue",
			Name:      "pending_executions",
			Help:      "Number of executions pending in the queue",
		},
	)

	// --- Retry Metrics ---

	// RetriesTotal counts job retries.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "executions",
			Name:      "retries_total",
			Help:      "Total number of job retries",
		},
		[]string{"job_name"},
	)

	// OrphansReaped counts orphaned executions cleaned up.
	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clearci",
			Subsystem: "scheduler",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned executions cleaned up",
		},
	)

	// --- Resilience Metrics ---

	// BreakerState exposes circuit breaker state per breaker
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clearci",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordExecution records metrics for a completed execution.
func RecordExecution(jobName, status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDuration.WithLabelValues(jobName, status).Observe(durationSeconds)
}

// RecordDispatch records a job being dispatched.
func RecordDispatch(lagSeconds float64) {
	JobsDispatched.Inc()
	SchedulerLag.Observe(lagSeconds)
}

// RecordCleartool records one cleartool invocation.
func RecordCleartool(operation, status string, durationSeconds float64) {
	CleartoolInvocations.WithLabelValues(operation, status).Inc()
	CleartoolDuration.WithLabelValues(operation).Observe(durationSeconds)
}
