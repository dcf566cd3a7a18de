package memory

import (
	"fmt"
	"sync"
)

// ExecAdapter narrows a Manager to the flat-address Allocate/Deallocate
// shape pkg/vm/exec.MemoryManager expects: a guest only ever sees a
// flat uint64 address, never a Handle — Map/Unmap are this adapter's
// problem, not the bytecode engine's.
type ExecAdapter struct {
	mgr Manager

	mu      sync.Mutex
	handles map[uint64]Handle
}

// NewExecAdapter wraps mgr for attaching to an exec.Context via
// Context.WithMemory.
func NewExecAdapter(mgr Manager) *ExecAdapter {
	return &ExecAdapter{mgr: mgr, handles: make(map[uint64]Handle)}
}

func (a *ExecAdapter) Load(addr uint64) (byte, error)  { return a.mgr.Load(addr) }
func (a *ExecAdapter) Store(addr uint64, b byte) error { return a.mgr.Store(addr, b) }

// Allocate reserves size bytes and maps them into the flat address
// space in one step, returning the base address the Memory/Pointer
// opcodes operate on.
func (a *ExecAdapter) Allocate(size uint64) (uint64, error) {
	h, err := a.mgr.Allocate(size, 8)
	if err != nil {
		return 0, err
	}
	base, err := a.mgr.Map(h)
	if err != nil {
		_ = a.mgr.Deallocate(h)
		return 0, err
	}

	addr := uint64(base)
	a.mu.Lock()
	a.handles[addr] = h
	a.mu.Unlock()
	return addr, nil
}

// Deallocate unmaps and frees the allocation addr names. addr must be
// a base address Allocate previously returned from this adapter.
func (a *ExecAdapter) Deallocate(addr uint64) error {
	a.mu.Lock()
	h, ok := a.handles[addr]
	if ok {
		delete(a.handles, addr)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("memory: deallocate: address %d was not allocated through this adapter", addr)
	}

	if err := a.mgr.Unmap(uintptr(addr)); err != nil {
		return err
	}
	return a.mgr.Deallocate(h)
}
