package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// OverflowPolicy selects how the arithmetic family handles a result
// that doesn't fit in the context's architecture width.
type OverflowPolicy uint8

const (
	// OverflowWrap truncates silently (two's-complement wraparound),
	// matching arch.Truncate's masking semantics.
	OverflowWrap OverflowPolicy = iota
	// OverflowTrap raises an instruction trap instead of wrapping.
	OverflowTrap
)

// Arithmetic implements the Add/Sub/Mul/Div/Mod/And/Or/Xor/Not family.
// One instance is shared across contexts running the same
// architecture; it carries no per-context state.
type Arithmetic struct {
	Policy OverflowPolicy
}

// NewArithmetic builds an Arithmetic unit under the given overflow
// policy.
func NewArithmetic(policy OverflowPolicy) *Arithmetic {
	return &Arithmetic{Policy: policy}
}

// Register installs this unit's handlers into table.
func (u *Arithmetic) Register(table *exec.HandlerTable) {
	table[OpAdd] = u.binary(arch.Add)
	table[OpSub] = u.binary(arch.Sub)
	table[OpMul] = u.binary(arch.Mul)
	table[OpDiv] = u.div
	table[OpMod] = u.mod
	table[OpAnd] = u.bitwise(func(a, b arch.Word) arch.Word { return bitAnd(a, b) })
	table[OpOr] = u.bitwise(func(a, b arch.Word) arch.Word { return bitOr(a, b) })
	table[OpXor] = u.bitwise(func(a, b arch.Word) arch.Word { return bitXor(a, b) })
	table[OpNot] = u.not
}

type binaryOp func(a arch.Architecture, x, y arch.Word) arch.Word

func (u *Arithmetic) binary(op binaryOp) exec.Handler {
	return func(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
		y, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("arithmetic: %w", err)
		}
		x, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("arithmetic: %w", err)
		}

		// Compute at full 512-bit width so the truncation below is the
		// only narrowing step and an overflow is visible as a difference.
		before := op(arch.Arch512, x, y)
		result := arch.Truncate(c.Architecture, before)
		if u.Policy == OverflowTrap && result != before {
			return exec.SignalContinue, fmt.Errorf("arithmetic: result overflows %s", c.Architecture)
		}

		if err := c.Stack.Push(result); err != nil {
			return exec.SignalContinue, fmt.Errorf("arithmetic: %w", err)
		}
		return exec.SignalContinue, nil
	}
}

func (u *Arithmetic) div(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	y, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("div: %w", err)
	}
	x, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("div: %w", err)
	}
	result, ok := arch.Div(c.Architecture, x, y)
	if !ok {
		return exec.SignalContinue, dverr.New(dverr.DivisionByZero, "div")
	}
	if err := c.Stack.Push(result); err != nil {
		return exec.SignalContinue, fmt.Errorf("div: %w", err)
	}
	return exec.SignalContinue, nil
}

func (u *Arithmetic) mod(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	y, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mod: %w", err)
	}
	x, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("mod: %w", err)
	}
	result, ok := arch.Mod(c.Architecture, x, y)
	if !ok {
		return exec.SignalContinue, dverr.New(dverr.DivisionByZero, "mod")
	}
	if err := c.Stack.Push(result); err != nil {
		return exec.SignalContinue, fmt.Errorf("mod: %w", err)
	}
	return exec.SignalContinue, nil
}

type bitwiseOp func(a, b arch.Word) arch.Word

func (u *Arithmetic) bitwise(op bitwiseOp) exec.Handler {
	return func(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
		y, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("bitwise: %w", err)
		}
		x, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("bitwise: %w", err)
		}
		if err := c.Stack.Push(arch.Truncate(c.Architecture, op(x, y))); err != nil {
			return exec.SignalContinue, fmt.Errorf("bitwise: %w", err)
		}
		return exec.SignalContinue, nil
	}
}

func (u *Arithmetic) not(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	x, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("not: %w", err)
	}
	if err := c.Stack.Push(arch.Truncate(c.Architecture, bitNot(x))); err != nil {
		return exec.SignalContinue, fmt.Errorf("not: %w", err)
	}
	return exec.SignalContinue, nil
}

func bitAnd(a, b arch.Word) arch.Word { return arch.FromBytes(xorBytes(a, b, func(x, y byte) byte { return x & y })) }
func bitOr(a, b arch.Word) arch.Word  { return arch.FromBytes(xorBytes(a, b, func(x, y byte) byte { return x | y })) }
func bitXor(a, b arch.Word) arch.Word { return arch.FromBytes(xorBytes(a, b, func(x, y byte) byte { return x ^ y })) }
func bitNot(a arch.Word) arch.Word {
	ab := a.Bytes32()
	var out [32]byte
	for i := range ab {
		out[i] = ^ab[i]
	}
	return arch.FromBytes(out[:])
}

func xorBytes(a, b arch.Word, f func(x, y byte) byte) []byte {
	ab, bb := a.Bytes32(), b.Bytes32()
	out := make([]byte, 32)
	for i := range out {
		out[i] = f(ab[i], bb[i])
	}
	return out
}
