package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// RegisterHostIOOps installs Input/Output/Log, the opcode family a
// module uses to read its execute() argument map, populate its result
// map, and append to its log stream — the three pieces of the host
// contract that aren't instructions executed, metrics, or errors.
func RegisterHostIOOps(table *exec.HandlerTable) {
	table[OpInput] = input
	table[OpOutput] = output
	table[OpLog] = hostLog
}

func input(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if len(instr.Operands) < 1 {
		return exec.SignalContinue, fmt.Errorf("input: requires a name operand")
	}
	name, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("input: %w", err)
	}

	w, _ := c.Input(name)
	if err := c.Stack.Push(w); err != nil {
		return exec.SignalContinue, fmt.Errorf("input: %w", err)
	}
	return exec.SignalContinue, nil
}

func output(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if len(instr.Operands) < 1 {
		return exec.SignalContinue, fmt.Errorf("output: requires a name operand")
	}
	name, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("output: %w", err)
	}

	w, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("output: %w", err)
	}
	c.SetOutput(name, w)
	return exec.SignalContinue, nil
}

func hostLog(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	if len(instr.Operands) < 1 {
		return exec.SignalContinue, fmt.Errorf("log: requires a message operand")
	}
	msg, err := constString(c, instr.Operands[0])
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("log: %w", err)
	}
	c.Log(msg)
	return exec.SignalContinue, nil
}
