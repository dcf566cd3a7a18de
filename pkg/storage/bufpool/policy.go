package bufpool

import (
	"container/list"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotlanth/dotvm/pkg/storage/page"
)

// LRUPolicy wraps hashicorp/golang-lru's recency-ordered cache for
// Touch/Keys bookkeeping; no pack library covers LFU, FIFO, or CLOCK,
// so those are hand-rolled below: FIFO over container/list, LFU over a
// map of counts, CLOCK over a slice ring (see DESIGN.md).
type LRUPolicy struct {
	order *lru.Cache[page.ID, struct{}]
}

// NewLRUPolicy builds an LRUPolicy. The cache's own capacity is set
// generously high — Pool, not the cache, enforces the real
// frame-count limit; this cache only orders recency.
func NewLRUPolicy() *LRUPolicy {
	l, _ := lru.New[page.ID, struct{}](1 << 20)
	return &LRUPolicy{order: l}
}

func (p *LRUPolicy) Touch(id page.ID)  { p.order.Add(id, struct{}{}) }
func (p *LRUPolicy) Remove(id page.ID) { p.order.Remove(id) }

func (p *LRUPolicy) Evict(candidates []page.ID, pinned func(page.ID) bool) (page.ID, bool) {
	for _, id := range p.order.Keys() {
		if !pinned(id) {
			return id, true
		}
	}
	return 0, false
}

// FIFOPolicy evicts in insertion order regardless of access pattern.
type FIFOPolicy struct {
	order *list.List
	elems map[page.ID]*list.Element
}

func NewFIFOPolicy() *FIFOPolicy {
	return &FIFOPolicy{order: list.New(), elems: make(map[page.ID]*list.Element)}
}

func (p *FIFOPolicy) Touch(id page.ID) {
	if _, ok := p.elems[id]; ok {
		return
	}
	p.elems[id] = p.order.PushBack(id)
}

func (p *FIFOPolicy) Remove(id page.ID) {
	if e, ok := p.elems[id]; ok {
		p.order.Remove(e)
		delete(p.elems, id)
	}
}

func (p *FIFOPolicy) Evict(candidates []page.ID, pinned func(page.ID) bool) (page.ID, bool) {
	for e := p.order.Front(); e != nil; e = e.Next() {
		id := e.Value.(page.ID)
		if !pinned(id) {
			return id, true
		}
	}
	return 0, false
}

// LFUPolicy evicts the least-frequently-touched unpinned candidate.
type LFUPolicy struct {
	freq map[page.ID]uint64
}

func NewLFUPolicy() *LFUPolicy {
	return &LFUPolicy{freq: make(map[page.ID]uint64)}
}

func (p *LFUPolicy) Touch(id page.ID) { p.freq[id]++ }
func (p *LFUPolicy) Remove(id page.ID) { delete(p.freq, id) }

func (p *LFUPolicy) Evict(candidates []page.ID, pinned func(page.ID) bool) (page.ID, bool) {
	var victim page.ID
	var victimFreq uint64
	found := false

	for _, id := range candidates {
		if pinned(id) {
			continue
		}
		f := p.freq[id]
		if !found || f < victimFreq {
			victim, victimFreq, found = id, f, true
		}
	}
	return victim, found
}

// ClockPolicy approximates LRU with a single reference bit per frame
// and a sweeping hand, the classic second-chance algorithm.
type ClockPolicy struct {
	ring     []page.ID
	refBit   map[page.ID]bool
	position map[page.ID]int
	hand     int
}

func NewClockPolicy() *ClockPolicy {
	return &ClockPolicy{refBit: make(map[page.ID]bool), position: make(map[page.ID]int)}
}

func (p *ClockPolicy) Touch(id page.ID) {
	if _, ok := p.position[id]; !ok {
		p.position[id] = len(p.ring)
		p.ring = append(p.ring, id)
	}
	p.refBit[id] = true
}

func (p *ClockPolicy) Remove(id page.ID) {
	delete(p.refBit, id)
	if idx, ok := p.position[id]; ok {
		p.ring = append(p.ring[:idx], p.ring[idx+1:]...)
		delete(p.position, id)
		for i := idx; i < len(p.ring); i++ {
			p.position[p.ring[i]] = i
		}
		if p.hand > len(p.ring) {
			p.hand = 0
		}
	}
}

func (p *ClockPolicy) Evict(candidates []page.ID, pinned func(page.ID) bool) (page.ID, bool) {
	if len(p.ring) == 0 {
		return 0, false
	}

	for sweeps := 0; sweeps < 2*len(p.ring); sweeps++ {
		if p.hand >= len(p.ring) {
			p.hand = 0
		}
		id := p.ring[p.hand]

		if pinned(id) {
			p.hand++
			continue
		}
		if p.refBit[id] {
			p.refBit[id] = false
			p.hand++
			continue
		}
		return id, true
	}
	return 0, false
}
