/*
Package metrics defines and registers every Prometheus metric DotVM's
components report, and exposes them over the standard /metrics text
exposition endpoint via promhttp.Handler.

# Metric catalog

Buffer pool (C1/C2): dotvm_bufferpool_hits_total,
dotvm_bufferpool_misses_total, dotvm_bufferpool_evictions_total{policy},
dotvm_bufferpool_resident_pages.

Write-ahead log (C2): dotvm_wal_force_latency_seconds,
dotvm_wal_bytes_written_total.

Transaction manager (C2): dotvm_transactions_total{isolation,outcome},
dotvm_transaction_duration_seconds{isolation}.

Bytecode engine (C4): dotvm_instructions_executed_total{architecture},
dotvm_execution_contexts_total{state},
dotvm_execution_duration_seconds{architecture}.

Sandbox (C4): dotvm_sandbox_denials_total{capability,reason},
dotvm_sandbox_quota_exceeded_total{quota}.

Transpiler (C5): dotvm_transpile_stage_duration_seconds{stage},
dotvm_transpile_failures_total{stage}.

Database bridge (C6): dotvm_bridge_operations_total{op,outcome}.

Scheduler: dotvm_scheduler_queue_depth{priority},
dotvm_scheduler_work_stolen_total.

# Usage

	timer := metrics.NewTimer()
	// ... perform an operation ...
	timer.ObserveDuration(metrics.WALForceLatency)

	metrics.TransactionsTotal.WithLabelValues("snapshot_isolation", "committed").Inc()

	http.Handle("/metrics", metrics.Handler())

# Design patterns

Every metric is a package-level variable registered once in init();
MustRegister panics on a duplicate name, catching a copy-paste mistake
at process start rather than at first scrape. Labels stay low-
cardinality (isolation level, architecture, opcode family) — nothing
keyed by dot id or timestamp, which Prometheus's storage engine
handles poorly at scale.

Health and readiness reporting (HealthChecker, GetHealth, GetReadiness,
the /health, /ready, and /live HTTP handlers) lives in health.go within
this package rather than a separate one, matching the teacher's
practice of keeping observability surfaces together.
*/
package metrics
