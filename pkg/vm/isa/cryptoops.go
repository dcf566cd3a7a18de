package isa

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// RegisterCryptoOps installs Hash/Encrypt/Decrypt, each operating on
// the top-of-stack operand's 32-byte representation, through unit.
// Sign/VerifySignature are host-key operations and are exposed as
// syscalls instead (see syscall.go) rather than opcodes, since they
// need a keypair the bytecode stream itself never carries.
func RegisterCryptoOps(table *exec.HandlerTable, unit *CryptoUnit) {
	table[OpHash] = hashOp
	table[OpEncrypt] = encryptOp(unit)
	table[OpDecrypt] = decryptOp(unit)
}

func hashOp(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
	w, err := c.Stack.Pop()
	if err != nil {
		return exec.SignalContinue, fmt.Errorf("hash: %w", err)
	}
	b := w.Bytes32()
	digest := Hash(b[:])
	if err := c.Stack.Push(arch.FromBytes(digest[:])); err != nil {
		return exec.SignalContinue, fmt.Errorf("hash: %w", err)
	}
	return exec.SignalContinue, nil
}

func encryptOp(unit *CryptoUnit) exec.Handler {
	return func(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
		if err := c.Check(types.CapCryptoEncrypt); err != nil {
			return exec.SignalContinue, fmt.Errorf("encrypt: %w", err)
		}
		w, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("encrypt: %w", err)
		}
		plaintext := w.Bytes32()
		ciphertext, err := unit.Encrypt(plaintext[:])
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("encrypt: %w", err)
		}
		if err := c.Stack.Push(arch.FromBytes(ciphertext)); err != nil {
			return exec.SignalContinue, fmt.Errorf("encrypt: %w", err)
		}
		return exec.SignalContinue, nil
	}
}

func decryptOp(unit *CryptoUnit) exec.Handler {
	return func(c *exec.Context, instr module.Instruction) (exec.Signal, error) {
		if err := c.Check(types.CapCryptoEncrypt); err != nil {
			return exec.SignalContinue, fmt.Errorf("decrypt: %w", err)
		}
		w, err := c.Stack.Pop()
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("decrypt: %w", err)
		}
		ciphertext := w.Bytes32()
		plaintext, err := unit.Decrypt(ciphertext[:])
		if err != nil {
			return exec.SignalContinue, fmt.Errorf("decrypt: %w", err)
		}
		if err := c.Stack.Push(arch.FromBytes(plaintext)); err != nil {
			return exec.SignalContinue, fmt.Errorf("decrypt: %w", err)
		}
		return exec.SignalContinue, nil
	}
}
