package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrie() *Trie {
	return New(NewStore(NewMemBackend()))
}

func TestPutGetRoundTrip(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("alpha"), []byte("1")))
	require.NoError(t, tr.Put([]byte("beta"), []byte("2")))

	v, ok, err := tr.Get([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	v, ok, err = tr.Get([]byte("beta"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(v))
}

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	tr := newTestTrie()
	_, ok, err := tr.Get([]byte("nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverwriteReplacesValue(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("k"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k"), []byte("v2")))

	v, ok, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestDeleteRemovesKey(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k2"), []byte("v2")))

	require.NoError(t, tr.Delete([]byte("k1")))

	_, ok, err := tr.Get([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := tr.Get([]byte("k2"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestStateRootChangesOnWrite(t *testing.T) {
	tr := newTestTrie()
	r0 := tr.StateRoot()
	require.NoError(t, tr.Put([]byte("k"), []byte("v")))
	r1 := tr.StateRoot()
	assert.NotEqual(t, r0, r1)
}

func TestStateRootIsDeterministic(t *testing.T) {
	tr1 := newTestTrie()
	tr2 := newTestTrie()

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		require.NoError(t, tr1.Put([]byte(kv[0]), []byte(kv[1])))
		require.NoError(t, tr2.Put([]byte(kv[0]), []byte(kv[1])))
	}

	assert.Equal(t, tr1.StateRoot(), tr2.StateRoot())
}

func TestProofVerifiesAgainstRoot(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("alpha"), []byte("1")))
	require.NoError(t, tr.Put([]byte("beta"), []byte("2")))

	proof, err := tr.Proof([]byte("alpha"))
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	ok, err := Verify(tr.StateRoot(), []byte("alpha"), []byte("1"), proof)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProofRejectsWrongValue(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("alpha"), []byte("1")))

	proof, err := tr.Proof([]byte("alpha"))
	require.NoError(t, err)

	ok, err := Verify(tr.StateRoot(), []byte("alpha"), []byte("wrong"), proof)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiffReportsChangedKeysOnly(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("alpha"), []byte("1")))
	require.NoError(t, tr.Put([]byte("beta"), []byte("2")))
	r1 := tr.StateRoot()

	require.NoError(t, tr.Put([]byte("beta"), []byte("3")))
	r2 := tr.StateRoot()

	changed, err := tr.Diff(r1, r2)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "beta", string(changed[0]))
}

func TestSnapshotRetainsNodesAcrossOverwrite(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("k"), []byte("v1")))
	snap := tr.Snapshot()

	require.NoError(t, tr.Put([]byte("k"), []byte("v2")))

	old := Open(tr.store, Hash(snap))
	v, ok, err := old.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestPruneReclaimsUnreachableNodes(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("k"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k"), []byte("v2")))

	removed, err := tr.Prune(PruneBy{})
	require.NoError(t, err)
	assert.Greater(t, removed, 0)

	v, ok, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestPruneHonorsRetainedSnapshot(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("k"), []byte("v1")))
	snap := tr.Snapshot()

	require.NoError(t, tr.Put([]byte("k"), []byte("v2")))

	_, err := tr.Prune(PruneBy{Retained: []SnapshotID{snap}})
	require.NoError(t, err)

	old := Open(tr.store, Hash(snap))
	v, ok, err := old.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}
