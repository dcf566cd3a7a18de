package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateDeallocateTracksStats(t *testing.T) {
	m := New(1024)

	h, err := m.Allocate(64, 8)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, uint64(64), stats.Allocated)
	assert.Equal(t, uint64(64), stats.Current)

	require.NoError(t, m.Deallocate(h))
	stats = m.Stats()
	assert.Equal(t, uint64(0), stats.Current)
	assert.Equal(t, uint64(64), stats.Deallocated)
}

func TestAllocateZeroSizeErrors(t *testing.T) {
	m := New(1024)
	_, err := m.Allocate(0, 8)
	assert.Error(t, err)
}

func TestMapLoadStoreRoundTrip(t *testing.T) {
	m := New(1024)
	h, err := m.Allocate(16, 1)
	require.NoError(t, err)

	addr, err := m.Map(h)
	require.NoError(t, err)

	require.NoError(t, m.Store(uint64(addr), 0xAB))
	got, err := m.Load(uint64(addr))
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got)
}

func TestProtectReadOnlyRejectsStore(t *testing.T) {
	m := New(1024)
	h, err := m.Allocate(16, 1)
	require.NoError(t, err)

	addr, err := m.Map(h)
	require.NoError(t, err)
	require.NoError(t, m.Protect(h, ModeRead))

	err = m.Store(uint64(addr), 1)
	assert.Error(t, err)
}

func TestDeallocateWhileMappedErrors(t *testing.T) {
	m := New(1024)
	h, err := m.Allocate(16, 1)
	require.NoError(t, err)
	_, err = m.Map(h)
	require.NoError(t, err)

	err = m.Deallocate(h)
	assert.Error(t, err)
}

func TestUnmapUnknownAddressErrors(t *testing.T) {
	m := New(1024)
	err := m.Unmap(99999)
	assert.Error(t, err)
}

func TestFragmentationRatio(t *testing.T) {
	var s Stats
	assert.Equal(t, 0.0, s.FragmentationRatio())

	s = Stats{Current: 50, Peak: 100}
	assert.InDelta(t, 0.5, s.FragmentationRatio(), 0.0001)
}

func TestLoadOutOfRangeErrors(t *testing.T) {
	m := New(16)
	_, err := m.Load(1000)
	assert.Error(t, err)
}
