package storage

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/storage/txn"
	"github.com/dotlanth/dotvm/pkg/storage/wal"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesAndReopens(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer e2.Close()
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(Config{Dir: dir})
	require.NoError(t, err)

	tx := e.Begin(types.ReadCommitted)
	e.Put(tx, "k1", []byte("v1"))
	require.NoError(t, e.Commit(tx))
	require.NoError(t, e.Close())

	e2, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer e2.Close()

	tx2 := e2.Begin(types.ReadCommitted)
	v, ok := e2.Get(tx2, "k1")
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

// TestCrashMidTransactionDoesNotPersist simulates a process death
// between a transaction's writes landing in memory and its Commit
// record ever reaching the WAL: nothing is flushed or forced, the
// Engine is abandoned without Close, and a fresh Open over the same
// directory must see neither the dead transaction's write nor any
// corruption from it.
func TestCrashMidTransactionDoesNotPersist(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(Config{Dir: dir})
	require.NoError(t, err)

	tx := e.Begin(types.ReadCommitted)
	e.Put(tx, "k1", []byte("v1"))
	// Deliberately never Commit or Close: tx's write set never reaches
	// the WAL at all, simulating a crash before Commit was even called.

	e2, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer e2.Close()

	tx2 := e2.Begin(types.ReadCommitted)
	_, ok := e2.Get(tx2, "k1")
	assert.False(t, ok)
}

// TestCommitSurvivesAnUnrelatedCrashedTransaction exercises Undo: one
// transaction commits durably, a second begins and writes but never
// commits or aborts (its Begin record lands but nothing closes it
// out), and reopening must keep the first transaction's write while
// showing no trace of the second's.
func TestCommitSurvivesAnUnrelatedCrashedTransaction(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(Config{Dir: dir})
	require.NoError(t, err)

	committed := e.Begin(types.ReadCommitted)
	e.Put(committed, "k1", []byte("v1"))
	require.NoError(t, e.Commit(committed))

	crashed := e.Begin(types.ReadCommitted)
	e.Put(crashed, "k2", []byte("v2"))
	_, err = e.log.Append(wal.KindUpdate, crashed.ID, txn.EncodeWriteSet(crashed.WriteSet()))
	require.NoError(t, err)
	// No Commit record for crashed: it's a loser by the time replay
	// runs, even though its Update record made it to the log.

	require.NoError(t, e.Close())

	e2, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer e2.Close()

	tx2 := e2.Begin(types.ReadCommitted)
	v, ok := e2.Get(tx2, "k1")
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	_, ok = e2.Get(tx2, "k2")
	assert.False(t, ok)
}

func TestAbortDoesNotPersist(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer e.Close()

	tx := e.Begin(types.ReadCommitted)
	e.Put(tx, "k1", []byte("v1"))
	require.NoError(t, e.Abort(tx))

	tx2 := e.Begin(types.ReadCommitted)
	_, ok := e.Get(tx2, "k1")
	assert.False(t, ok)
}

func TestAllocateAndFetchPage(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer e.Close()

	id, err := e.AllocatePage()
	require.NoError(t, err)

	frame, err := e.FetchPage(id)
	require.NoError(t, err)
	assert.NotNil(t, frame)
	frame.Unpin()
}

func TestCheckpointSucceeds(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Checkpoint())
}

func TestUnknownEvictionPolicyErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(Config{Dir: dir, EvictionPolicy: "mru"})
	assert.Error(t, err)
}
