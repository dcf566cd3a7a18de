// Package recovery implements crash recovery over the write-ahead
// log: an Analysis pass reconstructs which transactions were in
// flight at crash time, Redo reapplies every logged change regardless
// of transaction outcome, and Undo reverts the writes of transactions
// that never committed — the standard ARIES-style three-pass shape.
//
// Grounded on the teacher's replicated state machine Apply pattern
// (a Command{Op, Data} decoded and switched on to mutate local state)
// generalized from "apply one committed log entry" to "replay one WAL
// record," since both are the same shape: decode a tagged payload,
// dispatch on its kind, mutate state.
package recovery

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/storage/wal"
)

// PageWriter applies a redone or undone payload to the page store.
// The file layer implements this.
type PageWriter interface {
	ApplyPayload(payload []byte) error
}

// Analysis scans records and reports which transactions never reached
// a Commit or Abort record — the losers Undo must revert.
type Analysis struct {
	WinnerTxns map[uint64]bool // committed
	LoserTxns  map[uint64]bool // began but neither committed nor aborted
}

// Analyze performs the Analysis pass.
func Analyze(records []wal.Record) Analysis {
	began := make(map[uint64]bool)
	ended := make(map[uint64]bool)
	committed := make(map[uint64]bool)

	for _, r := range records {
		switch r.Kind {
		case wal.KindBegin:
			began[r.Txn] = true
		case wal.KindCommit:
			ended[r.Txn] = true
			committed[r.Txn] = true
		case wal.KindAbort:
			ended[r.Txn] = true
		}
	}

	losers := make(map[uint64]bool)
	for txn := range began {
		if !ended[txn] {
			losers[txn] = true
		}
	}

	return Analysis{WinnerTxns: committed, LoserTxns: losers}
}

// Redo reapplies every Update record's payload in LSN order,
// regardless of which transaction wrote it or whether that
// transaction ultimately committed — redo is unconditional, and Undo
// cleans up afterward.
func Redo(records []wal.Record, writer PageWriter) (int, error) {
	applied := 0
	for _, r := range records {
		if r.Kind != wal.KindUpdate {
			continue
		}
		if err := writer.ApplyPayload(r.Payload); err != nil {
			return applied, dverr.Wrap(dverr.RecoveryFailed, "recovery.Redo", fmt.Errorf("lsn %d: %w", r.LSN, err))
		}
		applied++
	}
	return applied, nil
}

// Undo reverts every Update record written by a loser transaction, in
// reverse LSN order, via the same PageWriter — the caller is
// responsible for Payload encoding the compensating action (for a
// byte-level store this is typically the prior value, already
// present in the log record from when the write was first made).
func Undo(records []wal.Record, analysis Analysis, writer PageWriter) (int, error) {
	undone := 0
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Kind != wal.KindUpdate || !analysis.LoserTxns[r.Txn] {
			continue
		}
		if err := writer.ApplyPayload(r.Payload); err != nil {
			return undone, dverr.Wrap(dverr.RecoveryFailed, "recovery.Undo", fmt.Errorf("lsn %d: %w", r.LSN, err))
		}
		undone++
	}
	return undone, nil
}

// Run performs the full Analysis -> Redo -> Undo sequence over every
// record in log, returning how many records were redone and undone.
func Run(log *wal.Log, writer PageWriter) (redone, undone int, err error) {
	records, err := log.ReadAll()
	if err != nil {
		return 0, 0, dverr.Wrap(dverr.RecoveryFailed, "recovery.Run", err)
	}

	analysis := Analyze(records)

	redone, err = Redo(records, writer)
	if err != nil {
		return redone, 0, err
	}

	undone, err = Undo(records, analysis, writer)
	if err != nil {
		return redone, undone, err
	}

	return redone, undone, nil
}
