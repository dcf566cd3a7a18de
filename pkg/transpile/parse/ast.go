package parse

// ValType is a WASM value type.
type ValType byte

const (
	ValI32 ValType = 0x7f
	ValI64 ValType = 0x7e
	ValF32 ValType = 0x7d
	ValF64 ValType = 0x7c
)

// FuncType is a function signature: parameter and result value types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is one imported function, global, memory, or table.
type Import struct {
	Module string
	Name   string
	Kind   string // "func", "global", "memory", "table"
	Index  uint32 // index into the matching type/global/memory/table space
}

// Export is one exported function, global, memory, or table.
type Export struct {
	Name  string
	Kind  string
	Index uint32
}

// Global is a module-level global variable.
type Global struct {
	Type    ValType
	Mutable bool
	Init    []Instruction
}

// Memory describes a linear memory's page-count limits (64KiB pages).
type Memory struct {
	MinPages uint32
	MaxPages uint32
	HasMax   bool
}

// Op is a WASM opcode this transpiler understands. Opcodes outside
// this set surface as dverr.UnsupportedFeature during parsing rather
// than being silently dropped.
type Op byte

const (
	OpUnreachable Op = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpReturn
	OpCall
	OpDrop
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet
	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Eq
	OpI32Eqz
	OpI32LtS
	OpI32GtS
)

// Instruction is one decoded instruction: an Op plus whatever
// immediates it carries (branch depth, local/global index, constant
// value), flattened into a single Imm field since no instruction in
// this subset needs more than one.
type Instruction struct {
	Op  Op
	Imm int64
}

// Function is one decoded function body: its declared locals (beyond
// its parameters) and its instruction stream.
type Function struct {
	TypeIndex uint32
	Locals    []ValType
	Body      []Instruction
}

// DataSegment is one module-level data initializer.
type DataSegment struct {
	MemoryIndex uint32
	Offset      int32
	Bytes       []byte
}

// Features records which optional WASM proposals the module's
// binary appears to use, as a coarse signal for the analyze stage
// rather than a strict validator.
type Features struct {
	SIMD          bool
	BulkMemory    bool
	ReferenceTypes bool
	MultiValue    bool
}

// Module is the parsed, abstract form of a WASM binary: every section
// decoded into Go types, ready for the analyze stage.
type Module struct {
	Types     []FuncType
	Imports   []Import
	FuncTypes []uint32 // index into Types, one per locally-defined function
	Memories  []Memory
	Globals   []Global
	Exports   []Export
	Functions []Function
	Data      []DataSegment
	Features  Features
}
