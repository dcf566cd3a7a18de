// Package bufpool implements the storage engine's buffer pool: a
// bounded cache of pinned/unpinned page frames backed by a pluggable
// eviction policy. Frame pinning uses atomic counters so a reader
// doesn't need the pool-wide lock to extend its hold on a page it
// already fetched; the pool-wide sync.RWMutex only guards eviction
// metadata and the frame table itself.
package bufpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/metrics"
	"github.com/dotlanth/dotvm/pkg/storage/page"
)

// Loader fetches a page from durable storage on a cache miss. The
// file layer implements this.
type Loader func(id page.ID) (*page.Page, error)

// Frame is one cached page plus its pin count and dirty flag.
type Frame struct {
	Page    *page.Page
	pinCount int32
	dirty    bool
	mu       sync.Mutex
}

// Pin records one hold on the frame, keeping it ineligible for
// eviction until a matching Unpin.
func (f *Frame) Pin() { atomic.AddInt32(&f.pinCount, 1) }

// Unpin releases one hold on the frame.
func (f *Frame) Unpin() { atomic.AddInt32(&f.pinCount, -1) }

func (f *Frame) pinned() bool { return atomic.LoadInt32(&f.pinCount) > 0 }

// MarkDirty records that the frame's page has been modified since it
// was last flushed.
func (f *Frame) MarkDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *Frame) isDirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

// EvictionPolicy selects a victim frame to reclaim when the pool is
// full. Implementations are not safe for concurrent use; Pool
// serializes calls under its own lock.
type EvictionPolicy interface {
	// Touch records an access to id, for policies that track recency
	// or frequency.
	Touch(id page.ID)
	// Evict picks a candidate for eviction among ids, or reports false
	// if every candidate is pinned.
	Evict(candidates []page.ID, pinned func(page.ID) bool) (page.ID, bool)
	// Remove drops id from the policy's internal bookkeeping.
	Remove(id page.ID)
}

// Pool is the bounded page cache. Flush writes a dirty frame back
// through writer before eviction or on an explicit Flush call.
type Pool struct {
	capacity   int
	policyName string
	load       Loader
	writer     func(*page.Page) error
	policy     EvictionPolicy

	mu     sync.RWMutex
	frames map[page.ID]*Frame
}

// New creates a Pool bounded to capacity frames, using policy for
// eviction. policyName labels the eviction-count metric so an
// operator can tell LRU churn from CLOCK churn without attaching a
// debugger.
func New(capacity int, policyName string, policy EvictionPolicy, load Loader, writer func(*page.Page) error) *Pool {
	return &Pool{
		capacity:   capacity,
		policyName: policyName,
		load:       load,
		writer:     writer,
		policy:     policy,
		frames:     make(map[page.ID]*Frame),
	}
}

// Fetch pins and returns the frame for id, loading it from durable
// storage on a miss and evicting a victim first if the pool is full.
func (p *Pool) Fetch(id page.ID) (*Frame, error) {
	p.mu.Lock()
	if f, ok := p.frames[id]; ok {
		f.Pin()
		p.policy.Touch(id)
		p.mu.Unlock()
		metrics.BufferPoolHits.Inc()
		return f, nil
	}
	p.mu.Unlock()

	metrics.BufferPoolMisses.Inc()

	pg, err := p.load(id)
	if err != nil {
		return nil, fmt.Errorf("bufpool: fetch %d: %w", id, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.frames[id]; ok {
		f.Pin()
		p.policy.Touch(id)
		return f, nil
	}

	if len(p.frames) >= p.capacity {
		if err := p.evictLocked(); err != nil {
			return nil, fmt.Errorf("bufpool: fetch %d: %w", id, err)
		}
	}

	f := &Frame{Page: pg}
	f.Pin()
	p.frames[id] = f
	p.policy.Touch(id)
	metrics.BufferPoolResident.Set(float64(len(p.frames)))

	return f, nil
}

// evictLocked reclaims one frame. Caller holds p.mu.
func (p *Pool) evictLocked() error {
	candidates := make([]page.ID, 0, len(p.frames))
	for id := range p.frames {
		candidates = append(candidates, id)
	}

	victim, ok := p.policy.Evict(candidates, func(id page.ID) bool {
		return p.frames[id].pinned()
	})
	if !ok {
		return dverr.New(dverr.ResourceExhausted, "bufpool: every frame is pinned")
	}

	f := p.frames[victim]
	if f.isDirty() {
		if err := p.writer(f.Page); err != nil {
			return fmt.Errorf("flush victim %d: %w", victim, err)
		}
	}

	delete(p.frames, victim)
	p.policy.Remove(victim)
	metrics.BufferPoolEvictions.WithLabelValues(p.policyName).Inc()
	metrics.BufferPoolResident.Set(float64(len(p.frames)))

	return nil
}

// Flush writes every dirty frame back through the pool's writer
// without evicting them.
func (p *Pool) Flush() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, f := range p.frames {
		if f.isDirty() {
			if err := p.writer(f.Page); err != nil {
				return fmt.Errorf("bufpool: flush %d: %w", id, err)
			}
			f.mu.Lock()
			f.dirty = false
			f.mu.Unlock()
		}
	}
	return nil
}

// Resident reports how many frames are currently cached.
func (p *Pool) Resident() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.frames)
}
