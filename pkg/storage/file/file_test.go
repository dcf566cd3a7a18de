package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dotlanth/dotvm/pkg/storage/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJunkFile(path string) error {
	return os.WriteFile(path, make([]byte, page.Size), 0o600)
}

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	f, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, f.SetCatalogRoot(3))
	require.NoError(t, f.Checkpoint(42))
	require.NoError(t, f.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, page.ID(3), reopened.CatalogRoot())
}

func TestWriteReadPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	f, err := Create(path)
	require.NoError(t, err)
	defer f.Close()

	p := page.New(0, page.TypeData)
	copy(p.Payload[:], []byte("hello"))
	p.Seal()

	require.NoError(t, f.WritePage(p))

	got, err := f.ReadPage(0)
	require.NoError(t, err)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestAllocateAndFreePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	f, err := Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.FreePage(5))

	id, err := f.AllocatePage()
	require.NoError(t, err)
	assert.Equal(t, page.ID(5), id)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, writeJunkFile(path))

	_, err := Open(path)
	assert.Error(t, err)
}
