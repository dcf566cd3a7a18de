package isa

// Opcode bytes for every instruction family this package implements.
// Grouped by family; branches sit at 0xE0 and calls at 0xF0. The
// module format's validate pass checks the target operands of OpBr
// (0xE0), OpBrIf (0xE1) and OpCall (0xF0) only — see
// pkg/vm/module/opcodes.go.
const (
	// Stack
	OpPushConst byte = 0x01
	OpPop       byte = 0x02
	OpDup       byte = 0x03
	OpSwap      byte = 0x04

	// Arithmetic
	OpAdd byte = 0x10
	OpSub byte = 0x11
	OpMul byte = 0x12
	OpDiv byte = 0x13
	OpMod byte = 0x14
	OpAnd byte = 0x15
	OpOr  byte = 0x16
	OpXor byte = 0x17
	OpNot byte = 0x18

	// Comparison — signed, pushing 1/0 the way WASM's i32 booleans do.
	OpEqz byte = 0x19
	OpEq  byte = 0x1A
	OpLtS byte = 0x1B
	OpGtS byte = 0x1C

	// Memory (C1)
	OpMemLoad       byte = 0x20
	OpMemStore      byte = 0x21
	OpMemAllocate   byte = 0x22
	OpMemDeallocate byte = 0x23
	OpPointerAdd    byte = 0x24
	OpPointerSub    byte = 0x25

	// Crypto
	OpHash        byte = 0x30
	OpEncrypt     byte = 0x31
	OpDecrypt     byte = 0x32
	OpSign        byte = 0x33
	OpVerifySig   byte = 0x34

	// Database (C6)
	OpDBGet              byte = 0x40
	OpDBPut              byte = 0x41
	OpDBDelete           byte = 0x42
	OpDBUpdate           byte = 0x43
	OpDBCreateCollection byte = 0x44

	// Syscall / sandbox
	OpSyscall byte = 0x50

	// Host I/O — the execute(dot_id, inputs, options) -> outputs,
	// metrics, events, logs contract's argument/result/log plumbing.
	OpInput  byte = 0x51
	OpOutput byte = 0x52
	OpLog    byte = 0x53

	// Control flow
	OpBr     byte = 0xE0
	OpBrIf   byte = 0xE1
	OpReturn byte = 0xE2
	OpNop    byte = 0xE3

	// Call
	OpCall byte = 0xF0
)
