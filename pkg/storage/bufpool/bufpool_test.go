package bufpool

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/storage/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLoader() (Loader, *int) {
	loads := 0
	return func(id page.ID) (*page.Page, error) {
		loads++
		return page.New(id, page.TypeData), nil
	}, &loads
}

func TestFetchCachesOnSecondCall(t *testing.T) {
	load, loads := fakeLoader()
	p := New(4, "lru", NewLRUPolicy(), load, func(*page.Page) error { return nil })

	f1, err := p.Fetch(1)
	require.NoError(t, err)
	f1.Unpin()

	f2, err := p.Fetch(1)
	require.NoError(t, err)
	f2.Unpin()

	assert.Equal(t, 1, *loads)
	assert.Equal(t, 1, p.Resident())
}

func TestFetchEvictsWhenFull(t *testing.T) {
	load, _ := fakeLoader()
	p := New(1, "lru", NewLRUPolicy(), load, func(*page.Page) error { return nil })

	f1, err := p.Fetch(1)
	require.NoError(t, err)
	f1.Unpin()

	f2, err := p.Fetch(2)
	require.NoError(t, err)
	f2.Unpin()

	assert.Equal(t, 1, p.Resident())
}

func TestFetchFailsWhenAllPinned(t *testing.T) {
	load, _ := fakeLoader()
	p := New(1, "lru", NewLRUPolicy(), load, func(*page.Page) error { return nil })

	_, err := p.Fetch(1)
	require.NoError(t, err)

	_, err = p.Fetch(2)
	assert.Error(t, err)
}

func TestFlushWritesDirtyFrames(t *testing.T) {
	load, _ := fakeLoader()
	written := 0
	p := New(4, "lru", NewLRUPolicy(), load, func(*page.Page) error { written++; return nil })

	f, err := p.Fetch(1)
	require.NoError(t, err)
	f.MarkDirty()

	require.NoError(t, p.Flush())
	assert.Equal(t, 1, written)
}

func TestClockPolicyGivesSecondChance(t *testing.T) {
	policy := NewClockPolicy()
	policy.Touch(1)
	policy.Touch(2)

	pinned := func(page.ID) bool { return false }

	victim, ok := policy.Evict([]page.ID{1, 2}, pinned)
	require.True(t, ok)
	assert.Contains(t, []page.ID{1, 2}, victim)
}

func TestLFUPolicyEvictsLeastTouched(t *testing.T) {
	policy := NewLFUPolicy()
	policy.Touch(1)
	policy.Touch(1)
	policy.Touch(2)

	victim, ok := policy.Evict([]page.ID{1, 2}, func(page.ID) bool { return false })
	require.True(t, ok)
	assert.Equal(t, page.ID(2), victim)
}

func TestFIFOPolicyEvictsOldest(t *testing.T) {
	policy := NewFIFOPolicy()
	policy.Touch(1)
	policy.Touch(2)

	victim, ok := policy.Evict([]page.ID{1, 2}, func(page.ID) bool { return false })
	require.True(t, ok)
	assert.Equal(t, page.ID(1), victim)
}
