// Package txn implements the storage engine's transaction manager:
// MVCC version chains, a lock-free timestamp oracle, and per-isolation-
// level read/write paths up through Serializable, which adds a
// per-key lock table for conflict detection on top of the MVCC
// snapshot every isolation level already gets for free.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/metrics"
	"github.com/dotlanth/dotvm/pkg/types"
)

// VersionedValue is one version in a key's MVCC chain.
type VersionedValue struct {
	Value     []byte
	WriterTxn uint64
	BeginTS   uint64
	EndTS     uint64 // 0 means still the current version
}

// Txn is one in-flight or completed transaction.
type Txn struct {
	ID        uint64
	Isolation types.IsolationLevel
	BeginTS   uint64
	CommitTS  uint64
	writeSet  map[string][]byte
	readSet   map[string]uint64 // key -> version BeginTS observed, for Serializable validation
	done      bool
	committed bool
}

// WriteSet returns t's buffered writes, for the storage Engine to
// encode into the WAL record that makes Commit durable.
func (t *Txn) WriteSet() map[string][]byte {
	return t.writeSet
}

// Manager assigns transaction ids and commit timestamps and mediates
// every read/write through the version chains it owns.
type Manager struct {
	nextTxnID atomic.Uint64
	nextTS    atomic.Uint64

	mu       sync.RWMutex
	versions map[string][]VersionedValue
	locks    sync.Map // key -> *sync.RWMutex, for Serializable conflict detection
}

// New creates an empty transaction manager.
func New() *Manager {
	return &Manager{versions: make(map[string][]VersionedValue)}
}

// Begin starts a new transaction under the given isolation level.
func (m *Manager) Begin(isolation types.IsolationLevel) *Txn {
	id := m.nextTxnID.Add(1)
	ts := m.nextTS.Add(1)

	t := &Txn{
		ID:        id,
		Isolation: isolation,
		BeginTS:   ts,
		writeSet:  make(map[string][]byte),
		readSet:   make(map[string]uint64),
	}

	metrics.TransactionsTotal.WithLabelValues(string(isolation), "begin").Inc()
	return t
}

// Get reads key as of t's snapshot. ReadUncommitted sees the latest
// version regardless of commit state; every other level sees the
// newest version whose BeginTS is <= t.BeginTS and whose EndTS is
// either 0 or > t.BeginTS.
func (m *Manager) Get(t *Txn, key string) ([]byte, bool) {
	if v, ok := t.writeSet[key]; ok {
		return v, true
	}

	m.mu.RLock()
	chain := m.versions[key]
	m.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		v := chain[i]
		if t.Isolation == types.ReadUncommitted {
			t.readSet[key] = v.BeginTS
			return v.Value, true
		}
		if v.BeginTS <= t.BeginTS && (v.EndTS == 0 || v.EndTS > t.BeginTS) {
			t.readSet[key] = v.BeginTS
			return v.Value, true
		}
	}
	return nil, false
}

// Put buffers a write in t's local write set; it is only applied to
// the shared version chain on Commit.
func (m *Manager) Put(t *Txn, key string, value []byte) {
	t.writeSet[key] = value
}

// Commit validates (Serializable only) and applies t's write set,
// assigning it a commit timestamp that becomes the next reader's
// visibility boundary.
func (m *Manager) Commit(t *Txn) error {
	if t.done {
		if t.committed {
			// Repeated commit of an already-committed transaction is a
			// no-op: the write set was already applied and logged.
			return nil
		}
		return dverr.New(dverr.AlreadyAborted, "txn.Commit")
	}

	var unlockers []func()
	if t.Isolation == types.Serializable {
		keys := make([]string, 0, len(t.writeSet))
		for k := range t.writeSet {
			keys = append(keys, k)
		}
		for _, k := range keys {
			lock, _ := m.locks.LoadOrStore(k, &sync.RWMutex{})
			mu := lock.(*sync.RWMutex)
			mu.Lock()
			unlockers = append(unlockers, mu.Unlock)
		}
		defer func() {
			for _, u := range unlockers {
				u()
			}
		}()

		if err := m.validateSerializable(t); err != nil {
			t.done = true
			metrics.TransactionsTotal.WithLabelValues(string(t.Isolation), "abort").Inc()
			return dverr.Wrap(dverr.VersionConflict, "txn.Commit", err)
		}
	}

	commitTS := m.nextTS.Add(1)
	t.CommitTS = commitTS

	m.mu.Lock()
	for key, value := range t.writeSet {
		chain := m.versions[key]
		if len(chain) > 0 {
			chain[len(chain)-1].EndTS = commitTS
		}
		chain = append(chain, VersionedValue{Value: value, WriterTxn: t.ID, BeginTS: commitTS})
		m.versions[key] = chain
	}
	m.mu.Unlock()

	t.done = true
	t.committed = true
	metrics.TransactionsTotal.WithLabelValues(string(t.Isolation), "commit").Inc()
	return nil
}

// validateSerializable rejects a commit if any key t read has since
// gained a newer committed version than the one t observed — a
// write-skew or lost-update conflict.
func (m *Manager) validateSerializable(t *Txn) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, observedTS := range t.readSet {
		chain := m.versions[key]
		if len(chain) == 0 {
			continue
		}
		latest := chain[len(chain)-1]
		if latest.BeginTS != observedTS {
			return fmt.Errorf("txn %d: serialization conflict on key %q", t.ID, key)
		}
	}
	return nil
}

// Abort discards t's write set without applying it. Aborting an
// already-aborted transaction is a no-op; aborting one that already
// committed reports AlreadyCommitted rather than silently discarding a
// write that is already durable.
func (m *Manager) Abort(t *Txn) error {
	if t.done {
		if t.committed {
			return dverr.New(dverr.AlreadyCommitted, "txn.Abort")
		}
		return nil
	}
	t.done = true
	metrics.TransactionsTotal.WithLabelValues(string(t.Isolation), "abort").Inc()
	return nil
}

// ApplyRecovered seeds or advances key's version chain during WAL
// replay, assigning ts as the new version's visibility boundary.
// Unlike Commit it bypasses locking and Serializable validation:
// recovery runs single-threaded, before the engine accepts any new
// transaction.
func (m *Manager) ApplyRecovered(ws map[string][]byte, ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range ws {
		chain := m.versions[key]
		if len(chain) > 0 {
			chain[len(chain)-1].EndTS = ts
		}
		m.versions[key] = append(chain, VersionedValue{Value: value, BeginTS: ts})
	}
}

// RevertRecovered removes the chain entry ApplyRecovered added at ts
// for each key in ws, reopening the version it had closed out. WAL
// replay's Undo pass calls this for a loser transaction's Update
// record, using the same synthetic timestamp Redo assigned it, so the
// net effect of Redo-then-Undo on a crashed, never-committed write is
// as if it had never been replayed at all.
func (m *Manager) RevertRecovered(ws map[string][]byte, ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range ws {
		chain := m.versions[key]
		idx := -1
		for i, v := range chain {
			if v.BeginTS == ts {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}
		chain = append(chain[:idx], chain[idx+1:]...)
		if idx > 0 && idx <= len(chain) {
			chain[idx-1].EndTS = 0
		}
		if len(chain) == 0 {
			delete(m.versions, key)
		} else {
			m.versions[key] = chain
		}
	}
}

// LoadSnapshot seeds the version chain from a durable checkpoint: each
// entry becomes the sole, open-ended version of its key as of baseTS.
// Called once at Open, before any WAL replay.
func (m *Manager) LoadSnapshot(entries map[string][]byte, baseTS uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range entries {
		m.versions[key] = []VersionedValue{{Value: value, BeginTS: baseTS}}
	}
}

// Snapshot returns the latest version of every key currently in the
// chain, for an Engine checkpoint to persist to durable pages.
func (m *Manager) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.versions))
	for key, chain := range m.versions {
		if len(chain) == 0 {
			continue
		}
		out[key] = chain[len(chain)-1].Value
	}
	return out
}

// AdvancePast bumps the manager's id/timestamp oracles past values
// already used by replayed WAL records, so new transactions never
// collide with recovered history.
func (m *Manager) AdvancePast(maxTxnID, maxTS uint64) {
	for {
		cur := m.nextTxnID.Load()
		if cur >= maxTxnID || m.nextTxnID.CompareAndSwap(cur, maxTxnID) {
			break
		}
	}
	for {
		cur := m.nextTS.Load()
		if cur >= maxTS || m.nextTS.CompareAndSwap(cur, maxTS) {
			break
		}
	}
}
