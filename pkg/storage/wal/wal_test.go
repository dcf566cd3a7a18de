package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	r, err := l.Append(KindUpdate, 1, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.LSN)

	require.NoError(t, l.Force(r.LSN))
}

func TestReadAllReturnsAppendedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(KindBegin, 1, nil)
	require.NoError(t, err)
	_, err = l.Append(KindUpdate, 1, []byte("payload"))
	require.NoError(t, err)
	_, err = l.Append(KindCommit, 1, nil)
	require.NoError(t, err)

	records, err := l.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, KindCommit, records[2].Kind)
}

func TestReopenContinuesLSNSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	l, err := Open(path)
	require.NoError(t, err)

	r1, err := l.Append(KindUpdate, 1, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, l.Force(r1.LSN))
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	r2, err := l2.Append(KindUpdate, 1, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, r1.LSN+1, r2.LSN)
}

func TestWaitDurableUnblocksAfterForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	r, err := l.Append(KindUpdate, 1, []byte("x"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		l.WaitDurable(r.LSN)
		close(done)
	}()

	require.NoError(t, l.Force(r.LSN))
	<-done
}
