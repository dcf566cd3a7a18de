package txn

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetWithinSameTxn(t *testing.T) {
	m := New()
	tx := m.Begin(types.ReadCommitted)

	m.Put(tx, "k1", []byte("v1"))
	v, ok := m.Get(tx, "k1")
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestCommittedWriteVisibleToLaterTxn(t *testing.T) {
	m := New()
	tx1 := m.Begin(types.ReadCommitted)
	m.Put(tx1, "k1", []byte("v1"))
	require.NoError(t, m.Commit(tx1))

	tx2 := m.Begin(types.ReadCommitted)
	v, ok := m.Get(tx2, "k1")
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestUncommittedWriteNotVisibleToConcurrentSnapshot(t *testing.T) {
	m := New()
	tx1 := m.Begin(types.RepeatableRead)
	tx2 := m.Begin(types.RepeatableRead)

	m.Put(tx1, "k1", []byte("v1"))
	_, ok := m.Get(tx2, "k1")
	assert.False(t, ok)
}

func TestSerializableDetectsWriteSkew(t *testing.T) {
	m := New()

	tx0 := m.Begin(types.Serializable)
	m.Put(tx0, "k1", []byte("v0"))
	require.NoError(t, m.Commit(tx0))

	tx1 := m.Begin(types.Serializable)
	_, _ = m.Get(tx1, "k1")

	tx2 := m.Begin(types.Serializable)
	_, _ = m.Get(tx2, "k1")
	m.Put(tx2, "k1", []byte("v2"))
	require.NoError(t, m.Commit(tx2))

	m.Put(tx1, "k1", []byte("v1"))
	err := m.Commit(tx1)
	assert.Error(t, err)
}

func TestAbortDiscardsWriteSet(t *testing.T) {
	m := New()
	tx := m.Begin(types.ReadCommitted)
	m.Put(tx, "k1", []byte("v1"))
	require.NoError(t, m.Abort(tx))

	tx2 := m.Begin(types.ReadCommitted)
	_, ok := m.Get(tx2, "k1")
	assert.False(t, ok)
}

func TestCommitAfterCommitIsNoop(t *testing.T) {
	m := New()
	tx := m.Begin(types.ReadCommitted)
	m.Put(tx, "k1", []byte("v1"))
	require.NoError(t, m.Commit(tx))
	require.NoError(t, m.Commit(tx))
}

func TestAbortAfterCommitReportsAlreadyCommitted(t *testing.T) {
	m := New()
	tx := m.Begin(types.ReadCommitted)
	require.NoError(t, m.Commit(tx))
	assert.Error(t, m.Abort(tx))
}

func TestCommitAfterAbortReportsAlreadyAborted(t *testing.T) {
	m := New()
	tx := m.Begin(types.ReadCommitted)
	require.NoError(t, m.Abort(tx))
	assert.Error(t, m.Commit(tx))
}
