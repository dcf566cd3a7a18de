package state

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/storage"
	"github.com/dotlanth/dotvm/pkg/types"
)

// EngineBackend adapts a *storage.Engine to the Backend interface, so
// trie nodes are durable through C2 instead of living only in memory.
// Each Get/Put is its own read-committed transaction; callers that
// need atomicity across several node writes (e.g. one Put call
// touching a path of nodes) should hold the trie's own lock around
// the whole operation, which Trie already does.
type EngineBackend struct {
	eng *storage.Engine
}

// NewEngineBackend wraps eng as a node Backend.
func NewEngineBackend(eng *storage.Engine) *EngineBackend {
	return &EngineBackend{eng: eng}
}

func (b *EngineBackend) Get(key string) ([]byte, bool, error) {
	tx := b.eng.Begin(types.ReadCommitted)
	v, ok := b.eng.Get(tx, key)
	if err := b.eng.Abort(tx); err != nil {
		return nil, false, fmt.Errorf("state: abort node read: %w", err)
	}
	return v, ok, nil
}

func (b *EngineBackend) Put(key string, value []byte) error {
	tx := b.eng.Begin(types.ReadCommitted)
	b.eng.Put(tx, key, value)
	if err := b.eng.Commit(tx); err != nil {
		return fmt.Errorf("state: commit node write: %w", err)
	}
	return nil
}

// Delete writes a nil-valued tombstone, since the underlying
// transaction manager has no true key removal (see pkg/storage/txn).
func (b *EngineBackend) Delete(key string) error {
	return b.Put(key, nil)
}
