// Package translate implements stage three of the WASM transpiler:
// mapping each parsed WASM instruction to one or more DotVM opcodes
// for a target architecture, and assembling the result into a
// pkg/vm/module.Module the engine's loader accepts directly.
package translate

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/transpile/parse"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/isa"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// Mapper maps one WASM instruction at a time into DotVM instructions
// for a given target architecture.
type Mapper struct {
	Target types.Architecture
}

// NewMapper builds a Mapper targeting arch.
func NewMapper(arch types.Architecture) *Mapper {
	return &Mapper{Target: arch}
}

// MapInstruction translates one WASM instruction. constIndex resolves
// a local.get, global.get or constant instruction to the constant-pool
// index the emitted PushConst operand should reference; branch targets are
// translated 1:1 since WASM's structured depth-relative branches are
// pre-resolved by the analyze stage into absolute indices before this
// stage runs (see pipeline.Engine.Run).
func (mp *Mapper) MapInstruction(inst parse.Instruction, constIndex func(parse.Instruction) (uint64, error)) ([]module.Instruction, error) {
	switch inst.Op {
	case parse.OpNop:
		return one(isa.OpNop), nil
	case parse.OpUnreachable:
		return one(isa.OpNop), nil // traps are the VM's job once reached; see adapt stage
	case parse.OpDrop:
		return one(isa.OpPop), nil
	case parse.OpReturn:
		return one(isa.OpReturn), nil
	case parse.OpBr:
		return oneWithOperand(isa.OpBr, uint64(inst.Imm)), nil
	case parse.OpBrIf:
		return oneWithOperand(isa.OpBrIf, uint64(inst.Imm)), nil
	case parse.OpCall:
		return oneWithOperand(isa.OpCall, uint64(inst.Imm)), nil
	case parse.OpLocalGet, parse.OpGlobalGet:
		idx, err := constIndex(inst)
		if err != nil {
			return nil, err
		}
		return oneWithOperand(isa.OpPushConst, idx), nil
	case parse.OpLocalSet, parse.OpLocalTee, parse.OpGlobalSet:
		// storage of locals/globals is handled by the calling-
		// convention adapter, which rewrites these into frame-local
		// slot stores; at this stage they degrade to a pop so the
		// stack stays balanced for functions the adapter hasn't yet
		// processed.
		return one(isa.OpPop), nil
	case parse.OpI32Const, parse.OpI64Const, parse.OpF32Const, parse.OpF64Const:
		idx, err := constIndex(inst)
		if err != nil {
			return nil, err
		}
		return oneWithOperand(isa.OpPushConst, idx), nil
	case parse.OpI32Add, parse.OpI64Add:
		return one(isa.OpAdd), nil
	case parse.OpI32Sub, parse.OpI64Sub:
		return one(isa.OpSub), nil
	case parse.OpI32Mul, parse.OpI64Mul:
		return one(isa.OpMul), nil
	case parse.OpI32DivS, parse.OpI32DivU, parse.OpI64DivS, parse.OpI64DivU:
		return one(isa.OpDiv), nil
	case parse.OpI32And:
		return one(isa.OpAnd), nil
	case parse.OpI32Or:
		return one(isa.OpOr), nil
	case parse.OpI32Xor:
		return one(isa.OpXor), nil
	case parse.OpI32Eqz:
		return one(isa.OpEqz), nil
	case parse.OpI32Eq:
		return one(isa.OpEq), nil
	case parse.OpI32LtS:
		return one(isa.OpLtS), nil
	case parse.OpI32GtS:
		return one(isa.OpGtS), nil
	case parse.OpBlock, parse.OpLoop, parse.OpIf, parse.OpElse, parse.OpEnd:
		// structural markers only; the analyze stage already resolved
		// their branch targets, so nothing is emitted for them.
		return nil, nil
	default:
		return nil, dverr.Wrap(dverr.UnmappableInstruction, "translate.MapInstruction", fmt.Errorf("no mapping for wasm op %v", inst.Op))
	}
}

func one(op byte) []module.Instruction {
	return []module.Instruction{{Opcode: op}}
}

func oneWithOperand(op byte, operand uint64) []module.Instruction {
	return []module.Instruction{{Opcode: op, Operands: []uint64{operand}}}
}

// Builder assembles mapped functions into a complete module.Module.
type Builder struct {
	Architecture types.Architecture
	Constants    []module.Const
	Functions    []module.Function
	Imports      []module.Import
	Exports      []module.Export
}

// NewBuilder starts an empty module targeting arch.
func NewBuilder(arch types.Architecture) *Builder {
	return &Builder{Architecture: arch}
}

// AddConst interns value in the constant pool, returning its index.
// Identical constants are not deduplicated — WASM modules rarely
// repeat large constants enough for that to matter, and deduplication
// would require a full value-equality index this stage doesn't
// otherwise need.
func (b *Builder) AddConst(c module.Const) uint64 {
	b.Constants = append(b.Constants, c)
	return uint64(len(b.Constants) - 1)
}

// AddFunction appends fn to the module's function table, returning its
// index.
func (b *Builder) AddFunction(fn module.Function) int {
	b.Functions = append(b.Functions, fn)
	return len(b.Functions) - 1
}

// AddImport records a host import the module expects.
func (b *Builder) AddImport(imp module.Import) {
	b.Imports = append(b.Imports, imp)
}

// AddExport records a callable export.
func (b *Builder) AddExport(exp module.Export) {
	b.Exports = append(b.Exports, exp)
}

// Build produces the finished module.Module.
func (b *Builder) Build() *module.Module {
	return &module.Module{
		Architecture: b.Architecture,
		Functions:    b.Functions,
		Constants:    b.Constants,
		Imports:      b.Imports,
		Exports:      b.Exports,
		DebugNames:   map[int]string{},
	}
}
