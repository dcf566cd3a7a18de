package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// RegisterComparisonOps installs Eqz/Eq/LtS/GtS, the signed
// comparison family translate.MapInstruction maps WASM's
// i32.eqz/i32.eq/i32.lt_s/i32.gt_s onto. Each pushes 1 for true, 0 for
// false, matching WASM's own boolean-as-i32 result convention.
func RegisterComparisonOps(table *exec.HandlerTable) {
	table[OpEqz] = eqz
	table[OpEq] = compare(func(a arch.Architecture, x, y arch.Word) bool { return arch.CmpSigned(a, x, y) == 0 })
	table[OpLtS] = compare(func(a arch.Architecture, x, y arch.Word) bool { return arch.CmpSigned(a, x, y) < 0 })
	table[OpGtS] = compare(func(a arch.Architecture, x, y arch.Word) bool { return arch.CmpSigned(a, x, y) > 0 })
}

func boolWord(b bool) arch.Word {
	if b {
		return arch.FromUint64(1)
	}
	return arch.FromUint64(0)
}

func eqz(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	x, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("eqz: %w", err)
	}
	if err := c.Stack.Push(boolWord(arch.IsZero(c.Architecture, x))); err != nil {
		return exec.SignalContinue, fmt.Errorf("eqz: %w", err)
	}
	return exec.SignalContinue, nil
}

type compareFunc func(a arch.Architecture, x, y arch.Word) bool

func compare(op compareFunc) exec.Handler {
	return func(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
		y, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("compare: %w", err)
		}
		x, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("compare: %w", err)
		}
		if err := c.Stack.Push(boolWord(op(c.Architecture, x, y))); err != nil {
			return exec.SignalContinue, fmt.Errorf("compare: %w", err)
		}
		return exec.SignalContinue, nil
	}
}
