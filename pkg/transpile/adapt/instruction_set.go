package adapt

import (
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/isa"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// InstructionSetAdapter runs architecture-specific peepholes over a
// translated function's code. Today's only peephole duplicates the
// divisor ahead of every OpDiv on Arch256/Arch512: those words are too
// wide for the VM's trap message to print in full, so the dup gives
// the trap handler a copy of the divisor still on the stack after
// OpDiv consumes its operands, instead of it having to reconstruct
// the value from a faulted instruction pointer alone.
type InstructionSetAdapter struct {
	Target types.Architecture
}

// NewInstructionSetAdapter builds an adapter for arch.
func NewInstructionSetAdapter(arch types.Architecture) *InstructionSetAdapter {
	return &InstructionSetAdapter{Target: arch}
}

// AdaptFunction rewrites fn.Code in place.
func (a *InstructionSetAdapter) AdaptFunction(fn *module.Function) {
	if a.Target != types.Arch256 && a.Target != types.Arch512 {
		return
	}
	fn.Code = widenDivisions(fn.Code)
}

func widenDivisions(code []module.Instruction) []module.Instruction {
	out := make([]module.Instruction, 0, len(code))
	for _, instr := range code {
		if instr.Opcode == isa.OpDiv {
			out = append(out, module.Instruction{Opcode: isa.OpDup})
		}
		out = append(out, instr)
	}
	return out
}
