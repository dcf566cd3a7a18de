package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunnable struct {
	id       types.ContextID
	priority types.Priority
	quota    types.ResourceQuota
	ran      *atomic.Int32
}

func (f *fakeRunnable) ID() types.ContextID          { return f.id }
func (f *fakeRunnable) Priority() types.Priority      { return f.priority }
func (f *fakeRunnable) Quota() types.ResourceQuota     { return f.quota }
func (f *fakeRunnable) Run(ctx context.Context) error {
	f.ran.Add(1)
	return nil
}

func TestSchedulerRunsSubmittedWork(t *testing.T) {
	s := New(2, 1000)
	s.Start()
	defer s.Stop()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		r := &fakeRunnable{
			id:       types.ContextID("ctx"),
			priority: types.PriorityMedium,
			quota:    types.ResourceQuota{MaxInstructions: 10},
			ran:      &ran,
		}
		require.NoError(t, s.Submit(context.Background(), r))
	}

	require.Eventually(t, func() bool {
		return ran.Load() == 10
	}, time.Second, time.Millisecond)
}

func TestSchedulerHigherPriorityDrainsFirst(t *testing.T) {
	s := New(1, 1000)

	var order []types.Priority
	done := make(chan struct{})
	count := 0

	low := &orderRunnable{p: types.PriorityLow, order: &order, done: done, total: 2, count: &count}
	critical := &orderRunnable{p: types.PriorityCritical, order: &order, done: done, total: 2, count: &count}

	require.NoError(t, s.Submit(context.Background(), low))
	require.NoError(t, s.Submit(context.Background(), critical))

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled work")
	}

	assert.Equal(t, types.PriorityCritical, order[0])
}

type orderRunnable struct {
	p     types.Priority
	order *[]types.Priority
	done  chan struct{}
	total int
	count *int
}

func (o *orderRunnable) ID() types.ContextID         { return types.ContextID("ordered") }
func (o *orderRunnable) Priority() types.Priority      { return o.p }
func (o *orderRunnable) Quota() types.ResourceQuota     { return types.ResourceQuota{MaxInstructions: 1} }
func (o *orderRunnable) Run(ctx context.Context) error {
	*o.order = append(*o.order, o.p)
	*o.count++
	if *o.count == o.total {
		close(o.done)
	}
	return nil
}
