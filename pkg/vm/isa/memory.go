package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// RegisterMemoryOps installs MemLoad/MemStore/MemAllocate/
// MemDeallocate/PointerAdd/PointerSub, all routed through the
// context's attached exec.MemoryManager (C1) rather than touching
// process memory directly — a context with no attached memory manager
// traps instead of silently no-opping.
func RegisterMemoryOps(table *exec.HandlerTable) {
	table[OpMemLoad] = memLoad
	table[OpMemStore] = memStore
	table[OpMemAllocate] = memAllocate
	table[OpMemDeallocate] = memDeallocate
	table[OpPointerAdd] = pointerAdd
	table[OpPointerSub] = pointerSub
}

func memLoad(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapMemoryAlloc); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_load: %w", err)
	}
	if c.Memory == nil {
		return exec.SignalContinue, fmt.Errorf("mem_load: no memory manager attached to context")
	}

	addrWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_load: %w", err)
	}

	addr := addrWord.Uint64()
	b, err := c.Memory.Load(addr)
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_load: %w", err)
	}
	c.RecordMemoryAccess(addr)

	if err := c.Stack.Push(arch.FromUint64(uint64(b))); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_load: %w", err)
	}
	return exec.SignalContinue, nil
}

func memStore(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapMemoryAlloc); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_store: %w", err)
	}
	if c.Memory == nil {
		return exec.SignalContinue, fmt.Errorf("mem_store: no memory manager attached to context")
	}

	valWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_store: %w", err)
	}
	addrWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_store: %w", err)
	}

	addr := addrWord.Uint64()
	if err := c.Memory.Store(addr, byte(valWord.Uint64())); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_store: %w", err)
	}
	c.RecordMemoryAccess(addr)
	return exec.SignalContinue, nil
}

// memAllocate pops a size and pushes the base address of a freshly
// mapped region of that size, or traps if the allocator is exhausted.
func memAllocate(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapMemoryAlloc); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_allocate: %w", err)
	}
	if c.Memory == nil {
		return exec.SignalContinue, fmt.Errorf("mem_allocate: no memory manager attached to context")
	}

	sizeWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_allocate: %w", err)
	}

	addr, err := c.Memory.Allocate(sizeWord.Uint64())
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_allocate: %w", err)
	}
	if err := c.Stack.Push(arch.FromUint64(addr)); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_allocate: %w", err)
	}
	return exec.SignalContinue, nil
}

// memDeallocate pops an address and frees the allocation it names.
// The address must be one a prior MemAllocate returned — freeing an
// arbitrary address traps rather than silently succeeding, since the
// guest has no GC'd heap to fall back on (spec §9's no-GC non-goal).
func memDeallocate(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Check(types.CapMemoryAlloc); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_deallocate: %w", err)
	}
	if c.Memory == nil {
		return exec.SignalContinue, fmt.Errorf("mem_deallocate: no memory manager attached to context")
	}

	addrWord, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_deallocate: %w", err)
	}
	if err := c.Memory.Deallocate(addrWord.Uint64()); err != nil {
		return exec.SignalContinue, fmt.Errorf("mem_deallocate: %w", err)
	}
	return exec.SignalContinue, nil
}

// pointerAdd and pointerSub do address arithmetic on the stack
// without touching memory — they don't require CapMemoryAlloc since
// they never dereference the pointer, only compute one.
func pointerAdd(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	offset, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("pointer_add: %w", err)
	}
	ptr, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("pointer_add: %w", err)
	}
	if err := c.Stack.Push(arch.FromUint64(ptr.Uint64() + offset.Uint64())); err != nil {
		return exec.SignalContinue, fmt.Errorf("pointer_add: %w", err)
	}
	return exec.SignalContinue, nil
}

func pointerSub(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	offset, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("pointer_sub: %w", err)
	}
	ptr, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("pointer_sub: %w", err)
	}
	if err := c.Stack.Push(arch.FromUint64(ptr.Uint64() - offset.Uint64())); err != nil {
		return exec.SignalContinue, fmt.Errorf("pointer_sub: %w", err)
	}
	return exec.SignalContinue, nil
}
