package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// RegisterControlOps installs Br/BrIf/Return/Nop. Br and BrIf target
// an instruction offset within the current function, already
// range-checked by module.Load/Encode's validate pass — the handler
// trusts the operand rather than re-validating it on every jump.
func RegisterControlOps(table *exec.HandlerTable) {
	table[OpBr] = br
	table[OpBrIf] = brIf
	table[OpReturn] = ret
	table[OpNop] = nop
}

func br(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if len(instr.Operands) == 0 {
		return exec.SignalContinue, fmt.Errorf("br: missing target operand")
	}
	c.SetJump(int(instr.Operands[0]))
	return exec.SignalJump, nil
}

func brIf(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if len(instr.Operands) == 0 {
		return exec.SignalContinue, fmt.Errorf("br_if: missing target operand")
	}
	cond, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("br_if: %w", err)
	}
	if cond.Uint64() == 0 {
		return exec.SignalContinue, nil
	}
	c.SetJump(int(instr.Operands[0]))
	return exec.SignalJump, nil
}

func ret(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	return exec.SignalReturn, nil
}

func nop(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	return exec.SignalContinue, nil
}
