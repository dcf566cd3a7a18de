/*
Package log provides structured logging for DotVM using zerolog.

It wraps zerolog to give every subsystem — buffer pool, WAL writer,
scheduler, sandbox, transpiler — a component-scoped child logger
instead of reaching for a bare global, while still keeping one
package-level Logger for callers that genuinely have no narrower
context.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	poolLog := log.WithComponent("bufpool")
	poolLog.Info().Int("frames", 256).Msg("buffer pool opened")

	dotLog := log.WithDotID(dotID)
	dotLog.Error().Err(err).Msg("execution trapped")

	txnLog := log.WithTxnID(txn.ID)
	txnLog.Debug().Str("isolation", "snapshot").Msg("transaction committed")

# Context loggers

WithComponent tags every log line with a subsystem name
(bufpool/wal/txn/sandbox/transpile/bridge/sched). WithDotID and
WithTxnID tag a single execution context or transaction so its whole
lifecycle can be grepped out of a shared log stream. WithContextID is
the general form for call sites that have neither a dot id nor a
transaction id handy but still want one coherent correlation field.

# Design

A single package-level Logger is initialized once via Init and held
by reference everywhere else — subsystems store the *zerolog.Logger
(or a value copy from a With* call) they were constructed with rather
than reading the package global mid-call, so a context logger's fields
stay attached for that subsystem's whole lifetime.
*/
package log
