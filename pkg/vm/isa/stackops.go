package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// RegisterStackOps installs PushConst/Pop/Dup/Swap into table.
// PushConst reads its constant-pool index from the instruction's
// first operand and the owning module's Constants table.
func RegisterStackOps(table *exec.HandlerTable) {
	table[OpPushConst] = pushConst
	table[OpPop] = pop
	table[OpDup] = dup
	table[OpSwap] = swap
}

func pushConst(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if len(instr.Operands) == 0 {
		return exec.SignalContinue, fmt.Errorf("push_const: missing constant index operand")
	}
	idx := instr.Operands[0]
	if idx >= uint64(len(c.Module.Constants)) {
		return exec.SignalContinue, fmt.Errorf("push_const: constant index %d out of range", idx)
	}
	k := c.Module.Constants[idx]

	var w arch.Word
	switch k.Kind {
	case module.ConstInt:
		w = arch.FromUint64(k.Int)
	case module.ConstBytes, module.ConstString:
		w = arch.FromBytes(k.Bytes)
	default:
		return exec.SignalContinue, fmt.Errorf("push_const: unsupported constant kind %d", k.Kind)
	}

	if err := c.Stack.Push(w); err != nil {
		return exec.SignalContinue, fmt.Errorf("push_const: %w", err)
	}
	return exec.SignalContinue, nil
}

func pop(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if _, err := c.Stack.Pop(); err != nil {
		return exec.SignalContinue, fmt.Errorf("pop: %w", err)
	}
	return exec.SignalContinue, nil
}

func dup(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Stack.Dup(); err != nil {
		return exec.SignalContinue, fmt.Errorf("dup: %w", err)
	}
	return exec.SignalContinue, nil
}

func swap(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if err := c.Stack.Swap(); err != nil {
		return exec.SignalContinue, fmt.Errorf("swap: %w", err)
	}
	return exec.SignalContinue, nil
}
