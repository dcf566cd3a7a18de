// Package pipeline coordinates the WASM transpiler's four stages —
// parse, analyze, translate, adapt — behind a single Run call, and
// picks which adapters run for a given optimization preset.
package pipeline

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/transpile/adapt"
	"github.com/dotlanth/dotvm/pkg/transpile/analyze"
	"github.com/dotlanth/dotvm/pkg/transpile/parse"
	"github.com/dotlanth/dotvm/pkg/transpile/translate"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// OptimizationLevel selects which adapters run beyond the
// correctness-mandatory ones.
type OptimizationLevel int

const (
	// LevelDebug runs only the adapters a correct module requires: the
	// memory-model bound check and the calling-convention frame-size
	// check. No instruction-set peepholes run, so the emitted bytecode
	// maps as directly as possible to the source WASM for stepping
	// through in a debugger.
	LevelDebug OptimizationLevel = iota
	// LevelRelease additionally runs the instruction-set adapter's
	// peepholes.
	LevelRelease
	// LevelFast is an alias for LevelRelease today; it exists as a
	// named preset because spec.md's Open Question on optimization
	// presets asked for three names, not because its behavior differs
	// yet from release.
	LevelFast
)

// Config selects a pipeline's target architecture and preset.
type Config struct {
	Architecture types.Architecture
	Level        OptimizationLevel
}

// Engine runs the full transpilation pipeline for one Config.
type Engine struct {
	cfg Config
}

// New builds an Engine for cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Run transpiles a raw WASM binary into a loadable module.Module.
func (e *Engine) Run(wasm []byte) (*module.Module, error) {
	parsed, err := parse.Parse(wasm)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse: %w", err)
	}

	report := analyze.Analyze(parsed)

	mm := adapt.NewMemoryModelAdapter(e.cfg.Architecture)
	if err := mm.AdaptMemory(parsed.Memories); err != nil {
		return nil, fmt.Errorf("pipeline: adapt memory: %w", err)
	}

	builder := translate.NewBuilder(e.cfg.Architecture)
	mapper := translate.NewMapper(e.cfg.Architecture)
	cc := adapt.NewCallingConventionAdapter(e.cfg.Architecture)
	is := adapt.NewInstructionSetAdapter(e.cfg.Architecture)

	for i, fn := range parsed.Functions {
		constIndex := localConstResolver(builder, fn)

		code := make([]module.Instruction, 0, len(fn.Body))
		for _, inst := range fn.Body {
			mapped, err := mapper.MapInstruction(inst, constIndex)
			if err != nil {
				return nil, dverr.Wrap(dverr.UnmappableInstruction, "pipeline.Run",
					fmt.Errorf("function %d: %w", i, err))
			}
			code = append(code, mapped...)
		}

		built := module.Function{
			Name:      functionName(parsed, i),
			NumParams: numParams(parsed, fn),
			NumLocals: len(fn.Locals),
			Code:      code,
		}

		if err := cc.AdaptFunction(&built); err != nil {
			return nil, fmt.Errorf("pipeline: adapt calling convention: %w", err)
		}
		if e.cfg.Level != LevelDebug {
			is.AdaptFunction(&built)
		}

		builder.AddFunction(built)
	}

	for _, imp := range parsed.Imports {
		if imp.Kind == "func" {
			builder.AddImport(module.Import{Module: imp.Module, Name: imp.Name})
		}
	}
	for _, exp := range parsed.Exports {
		if exp.Kind == "func" {
			builder.AddExport(module.Export{Name: exp.Name, FuncIndex: int(exp.Index)})
		}
	}

	_ = report // consulted by future complexity-driven adapter selection

	return builder.Build(), nil
}

// localConstResolver returns a resolver that interns a const.get
// instruction's operand into builder's constant pool the first time it
// is seen for this function, keyed by (op, imm) so repeated
// local.get/global.get/i32.const instructions in the same function
// share one pool entry.
func localConstResolver(builder *translate.Builder, fn parse.Function) func(parse.Instruction) (uint64, error) {
	seen := make(map[parse.Instruction]uint64)
	return func(inst parse.Instruction) (uint64, error) {
		if idx, ok := seen[inst]; ok {
			return idx, nil
		}
		idx := builder.AddConst(module.Const{Kind: module.ConstInt, Int: uint64(inst.Imm)})
		seen[inst] = idx
		return idx, nil
	}
}

func numParams(m *parse.Module, fn parse.Function) int {
	if int(fn.TypeIndex) >= len(m.Types) {
		return 0
	}
	return len(m.Types[fn.TypeIndex].Params)
}

func functionName(m *parse.Module, index int) string {
	for _, exp := range m.Exports {
		if exp.Kind == "func" && int(exp.Index) == index {
			return exp.Name
		}
	}
	return fmt.Sprintf("func_%d", index)
}
