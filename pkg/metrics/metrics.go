package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Buffer pool metrics
	BufferPoolHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dotvm_bufferpool_hits_total",
			Help: "Total number of buffer pool page hits",
		},
	)

	BufferPoolMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dotvm_bufferpool_misses_total",
			Help: "Total number of buffer pool page misses",
		},
	)

	BufferPoolEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_bufferpool_evictions_total",
			Help: "Total number of pages evicted, by eviction policy",
		},
		[]string{"policy"},
	)

	BufferPoolResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dotvm_bufferpool_resident_pages",
			Help: "Number of pages currently resident in the buffer pool",
		},
	)

	// WAL metrics
	WALForceLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dotvm_wal_force_latency_seconds",
			Help:    "Time taken to force the WAL durable up to a given LSN",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dotvm_wal_bytes_written_total",
			Help: "Total bytes appended to the write-ahead log",
		},
	)

	// Transaction manager metrics
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_transactions_total",
			Help: "Total number of transactions by isolation level and outcome",
		},
		[]string{"isolation", "outcome"},
	)

	TransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dotvm_transaction_duration_seconds",
			Help:    "Transaction duration in seconds by isolation level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"isolation"},
	)

	// Bytecode engine metrics
	InstructionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_instructions_executed_total",
			Help: "Total instructions executed, by architecture",
		},
		[]string{"architecture"},
	)

	ExecutionContextsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_execution_contexts_total",
			Help: "Total execution contexts by terminal state",
		},
		[]string{"state"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dotvm_execution_duration_seconds",
			Help:    "Execution context wall time in seconds, by architecture",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"architecture"},
	)

	// Sandbox metrics
	SandboxDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_sandbox_denials_total",
			Help: "Total sandbox denials by capability and reason",
		},
		[]string{"capability", "reason"},
	)

	SandboxQuotaExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_sandbox_quota_exceeded_total",
			Help: "Total quota-exceeded suspensions, by quota kind",
		},
		[]string{"quota"},
	)

	// Transpiler metrics
	TranspileStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dotvm_transpile_stage_duration_seconds",
			Help:    "Time taken per transpile pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	TranspileFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_transpile_failures_total",
			Help: "Total transpile failures by stage",
		},
		[]string{"stage"},
	)

	// Database bridge metrics
	BridgeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dotvm_bridge_operations_total",
			Help: "Total document bridge operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// Scheduler metrics
	SchedulerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dotvm_scheduler_queue_depth",
			Help: "Number of admitted contexts waiting to run, by priority",
		},
		[]string{"priority"},
	)

	SchedulerStolenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dotvm_scheduler_work_stolen_total",
			Help: "Total number of work-stealing steals across worker queues",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BufferPoolHits,
		BufferPoolMisses,
		BufferPoolEvictions,
		BufferPoolResident,
		WALForceLatency,
		WALBytesWritten,
		TransactionsTotal,
		TransactionDuration,
		InstructionsExecuted,
		ExecutionContextsTotal,
		ExecutionDuration,
		SandboxDenialsTotal,
		SandboxQuotaExceeded,
		TranspileStageDuration,
		TranspileFailuresTotal,
		BridgeOperationsTotal,
		SchedulerQueueDepth,
		SchedulerStolenTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
