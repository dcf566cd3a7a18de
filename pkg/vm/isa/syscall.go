package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// HostSyscall is a single host-provided function a guest module may
// invoke through the Syscall opcode, keyed by name in an import table
// the engine builds at instantiation time.
type HostSyscall func(c *exec.Context, args []uint64) (uint64, error)

// syscallEntry pairs a registered host function with the capability a
// context must hold to call it by name — distinct syscalls can demand
// distinct capabilities (a "net.send"-style syscall gated on
// types.CapNetSend, say) instead of every syscall sharing one blanket
// grant.
type syscallEntry struct {
	cap types.Capability
	fn  HostSyscall
}

// SyscallTable resolves the syscall name a Syscall instruction's
// constant-pool operand names to its host implementation and required
// capability.
type SyscallTable struct {
	entries map[string]syscallEntry
}

// NewSyscallTable builds an empty table; the engine populates it with
// whatever host functions the deployment configuration grants.
func NewSyscallTable() *SyscallTable {
	return &SyscallTable{entries: make(map[string]syscallEntry)}
}

// Register binds name to fn, gated on cap: a context must hold cap
// (checked at call time, not at registration) to invoke this specific
// syscall.
func (t *SyscallTable) Register(name string, cap types.Capability, fn HostSyscall) {
	t.entries[name] = syscallEntry{cap: cap, fn: fn}
}

// RegisterSyscallOp installs the Syscall opcode, resolved through t.
// Unlike every other opcode family's single fixed capability, a
// syscall's required capability is a property of the syscall itself —
// the name must resolve before the gate can be checked, so "unknown
// host function" and "permission denied" are distinguishable failure
// modes for the same instruction. The instruction's first operand
// indexes the syscall's name in the constant pool; remaining operands
// are popped from the stack, in reverse push order, as the call's
// arguments.
func RegisterSyscallOp(table *exec.HandlerTable, syscalls *SyscallTable) {
	table[OpSyscall] = func(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
		if len(instr.Operands) == 0 {
			return exec.SignalContinue, fmt.Errorf("syscall: missing name operand")
		}

		name, err := constString(c, instr.Operands[0])
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("syscall: %w", err)
		}

		entry, ok := syscalls.entries[name]
		if !ok {
			return exec.SignalContinue, fmt.Errorf("syscall: unknown host function %q", name)
		}
		if err := c.Check(entry.cap); err != nil {
			return exec.SignalContinue, fmt.Errorf("syscall %q: %w", name, err)
		}
		fn := entry.fn

		numArgs := 0
		if len(instr.Operands) > 1 {
			numArgs = int(instr.Operands[1])
		}
		args := make([]uint64, numArgs)
		for i := numArgs - 1; i >= 0; i-- {
			w, err := c.Stack.Pop()
			if err != nil {
				return exec.SignalContinue, fmt.Errorf("syscall: %w", err)
			}
			args[i] = w.Uint64()
		}

		result, err := fn(c, args)
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("syscall %q: %w", name, err)
		}

		if err := c.Stack.Push(arch.FromUint64(result)); err != nil {
			return exec.SignalContinue, fmt.Errorf("syscall: %w", err)
		}
		return exec.SignalContinue, nil
	}
}
