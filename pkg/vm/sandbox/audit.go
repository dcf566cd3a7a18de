package sandbox

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketAudit = []byte("audit")

// AuditEntry records one allowed-or-denied access decision made by the
// sandbox, keyed by (context, monotonic sequence) so entries replay in
// the order they were decided.
type AuditEntry struct {
	ContextID  types.ContextID
	Sequence   uint64
	Capability types.Capability
	Allowed    bool
	Reason     string
	Timestamp  time.Time
}

// AuditLog persists sandbox decisions to a bbolt file, one bucket
// shared across contexts, keyed by contextID||sequence so a single
// context's history can be range-scanned with a prefix cursor.
type AuditLog struct {
	db  *bolt.DB
	seq map[types.ContextID]uint64
}

// OpenAuditLog opens (creating if absent) the audit database under
// dataDir.
func OpenAuditLog(dataDir string) (*AuditLog, error) {
	path := filepath.Join(dataDir, "sandbox_audit.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, dverr.Wrap(dverr.IoError, "audit.Open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		db.Close()
		return nil, dverr.Wrap(dverr.IoError, "audit.Open: create bucket", err)
	}

	return &AuditLog{db: db, seq: make(map[types.ContextID]uint64)}, nil
}

// Close closes the underlying database file.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// Record appends one audit entry. Every access decision is recorded,
// allowed or denied — the sandbox never degrades a blocked operation
// silently.
func (a *AuditLog) Record(contextID types.ContextID, cap types.Capability, allowed bool, reason string) error {
	a.seq[contextID]++
	entry := AuditEntry{
		ContextID:  contextID,
		Sequence:   a.seq[contextID],
		Capability: cap,
		Allowed:    allowed,
		Reason:     reason,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return dverr.Wrap(dverr.IoError, "audit.Record: marshal", err)
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		return b.Put(auditKey(contextID, entry.Sequence), data)
	})
}

// Replay returns every audit entry for contextID in sequence order.
func (a *AuditLog) Replay(contextID types.ContextID) ([]AuditEntry, error) {
	var entries []AuditEntry

	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		c := b.Cursor()
		prefix := []byte(contextID)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			// A longer context id that merely starts with contextID
			// shares the prefix; its keys are longer than id+sequence.
			if len(k) != len(prefix)+8 {
				continue
			}
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return dverr.Wrap(dverr.IoError, "audit.Replay: unmarshal", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}

func auditKey(contextID types.ContextID, seq uint64) []byte {
	key := make([]byte, len(contextID)+8)
	copy(key, contextID)
	binary.BigEndian.PutUint64(key[len(contextID):], seq)
	return key
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
