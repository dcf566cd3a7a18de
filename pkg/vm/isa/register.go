package isa

import "github.com/dotlanth/dotvm/pkg/vm/exec"

// NewHandlerTable builds a complete handler table for one execution
// context: stack ops, control flow, arithmetic under policy, memory
// ops (via C1), database ops (via C6), crypto ops under unit, and
// syscalls resolved through syscalls. Any opcode not covered by these
// families traps at dispatch time with "no handler registered".
func NewHandlerTable(policy OverflowPolicy, unit *CryptoUnit, syscalls *SyscallTable) *exec.HandlerTable {
	table := &exec.HandlerTable{}

	RegisterStackOps(table)
	RegisterControlOps(table)
	NewArithmetic(policy).Register(table)
	RegisterComparisonOps(table)
	RegisterMemoryOps(table)
	RegisterDatabaseOps(table)
	RegisterCryptoOps(table, unit)
	RegisterSyscallOp(table, syscalls)
	RegisterHostIOOps(table)

	return table
}
