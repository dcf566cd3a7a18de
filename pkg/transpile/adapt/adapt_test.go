package adapt

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/transpile/parse"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/isa"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

func TestMemoryModelAdapterRejectsOversizedMemory(t *testing.T) {
	a := NewMemoryModelAdapter(types.Arch64)
	err := a.AdaptMemory([]parse.Memory{{MinPages: 1 << 20}})
	if err == nil {
		t.Fatal("expected oversized memory to be rejected")
	}
}

func TestMemoryModelAdapterAcceptsSmallMemory(t *testing.T) {
	a := NewMemoryModelAdapter(types.Arch64)
	if err := a.AdaptMemory([]parse.Memory{{MinPages: 16}}); err != nil {
		t.Fatalf("expected small memory to be accepted: %v", err)
	}
}

func TestCallingConventionAdapterRejectsOverBudgetFrame(t *testing.T) {
	a := NewCallingConventionAdapter(types.Arch64)
	fn := &module.Function{Name: "big", NumParams: 200, NumLocals: 100}
	if err := a.AdaptFunction(fn); err == nil {
		t.Fatal("expected over-budget frame to be rejected")
	}
}

func TestCallingConventionAdapterAcceptsSmallFrame(t *testing.T) {
	a := NewCallingConventionAdapter(types.Arch512)
	fn := &module.Function{Name: "small", NumParams: 2, NumLocals: 3}
	if err := a.AdaptFunction(fn); err != nil {
		t.Fatalf("expected small frame to be accepted: %v", err)
	}
}

func TestInstructionSetAdapterDupsDivisorOnWideArch(t *testing.T) {
	a := NewInstructionSetAdapter(types.Arch256)
	fn := &module.Function{Code: []module.Instruction{{Opcode: isa.OpDiv}}}
	a.AdaptFunction(fn)
	if len(fn.Code) != 2 || fn.Code[0].Opcode != isa.OpDup || fn.Code[1].Opcode != isa.OpDiv {
		t.Fatalf("expected [Dup, Div], got %+v", fn.Code)
	}
}

func TestInstructionSetAdapterNoOpOnNarrowArch(t *testing.T) {
	a := NewInstructionSetAdapter(types.Arch64)
	fn := &module.Function{Code: []module.Instruction{{Opcode: isa.OpDiv}}}
	a.AdaptFunction(fn)
	if len(fn.Code) != 1 {
		t.Fatalf("expected no rewrite on Arch64, got %+v", fn.Code)
	}
}
