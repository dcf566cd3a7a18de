// Package module defines the bytecode module file format: the header,
// function table, constant pool, code section, and import/export
// tables a Load call validates and an Encode call serializes. Load and
// Encode are inverses of each other — parse(emit(m)) == m for any
// module m that round-trips through this package.
package module

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/dotlanth/dotvm/pkg/types"
)

// Magic identifies a DotVM bytecode file.
var Magic = [8]byte{'D', 'O', 'T', 'V', 'M', 0, 0, 0}

// FormatVersion is the on-disk module format version this package
// reads and writes.
const FormatVersion = 1

// ConstKind discriminates constant-pool entry payloads.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstBytes
	ConstString
)

// Const is one constant-pool entry. Strings and byte arrays are
// length-prefixed in the encoded form; ints carry 8 raw bytes.
type Const struct {
	Kind  ConstKind
	Int   uint64
	Bytes []byte
}

// Instruction is one decoded bytecode instruction: an opcode byte plus
// its operands, already resolved to indices into the function's local
// slots or the module's constant pool.
type Instruction struct {
	Opcode   byte
	Operands []uint64
}

// Function is one function's signature and code body.
type Function struct {
	Name       string
	NumParams  int
	NumLocals  int
	Code       []Instruction
}

// Import names a function or storage collection the module expects
// the host to provide.
type Import struct {
	Module string
	Name   string
}

// Export names a function this module makes callable from the host.
type Export struct {
	Name       string
	FuncIndex  int
}

// Module is the fully decoded bytecode unit the engine loads and
// executes.
type Module struct {
	Architecture types.Architecture
	Functions    []Function
	Constants    []Const
	Imports      []Import
	Exports      []Export
	DebugNames   map[int]string // function index -> source name, optional
}

// Load parses and validates raw bytecode, checking the magic, format
// version, declared architecture, and that every branch and call
// target inside the function bodies refers to a real instruction or
// function index.
func Load(raw []byte) (*Module, error) {
	r := bytes.NewReader(raw)

	var magic [8]byte
	if _, err := r.Read(magic[:]); err != nil {
		return nil, fmt.Errorf("load module: read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("load module: bad magic %x", magic)
	}

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("load module: read version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("load module: unsupported format version %d", version)
	}

	var archByte uint8
	if err := binary.Read(r, binary.BigEndian, &archByte); err != nil {
		return nil, fmt.Errorf("load module: read architecture: %w", err)
	}
	arch, err := archFromByte(archByte)
	if err != nil {
		return nil, fmt.Errorf("load module: %w", err)
	}

	var storedChecksum uint32
	if err := binary.Read(r, binary.BigEndian, &storedChecksum); err != nil {
		return nil, fmt.Errorf("load module: read checksum: %w", err)
	}
	body := raw[r.Size()-int64(r.Len()):]
	if crc32.ChecksumIEEE(body) != storedChecksum {
		return nil, fmt.Errorf("load module: checksum mismatch, file is corrupt")
	}

	m := &Module{Architecture: arch, DebugNames: map[int]string{}}

	if err := readConstants(r, m); err != nil {
		return nil, err
	}
	if err := readImports(r, m); err != nil {
		return nil, err
	}
	if err := readExports(r, m); err != nil {
		return nil, err
	}
	if err := readFunctions(r, m); err != nil {
		return nil, err
	}

	if err := validate(m); err != nil {
		return nil, err
	}

	return m, nil
}

func archFromByte(b uint8) (types.Architecture, error) {
	switch b {
	case 0:
		return types.Arch64, nil
	case 1:
		return types.Arch128, nil
	case 2:
		return types.Arch256, nil
	case 3:
		return types.Arch512, nil
	default:
		return "", fmt.Errorf("unknown architecture byte %d", b)
	}
}

func archToByte(a types.Architecture) uint8 {
	switch a {
	case types.Arch64:
		return 0
	case types.Arch128:
		return 1
	case types.Arch256:
		return 2
	case types.Arch512:
		return 3
	default:
		return 0xFF
	}
}

func readConstants(r *bytes.Reader, m *Module) error {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("load module: read constant count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		var kind uint8
		if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
			return fmt.Errorf("load module: read constant %d kind: %w", i, err)
		}
		c := Const{Kind: ConstKind(kind)}
		switch c.Kind {
		case ConstInt:
			if err := binary.Read(r, binary.BigEndian, &c.Int); err != nil {
				return fmt.Errorf("load module: read constant %d int: %w", i, err)
			}
		case ConstBytes, ConstString:
			data, err := readLenPrefixed(r)
			if err != nil {
				return fmt.Errorf("load module: read constant %d payload: %w", i, err)
			}
			c.Bytes = data
		default:
			return fmt.Errorf("load module: constant %d has unknown kind %d", i, kind)
		}
		m.Constants = append(m.Constants, c)
	}
	return nil
}

func readImports(r *bytes.Reader, m *Module) error {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("load module: read import count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		modName, err := readLenPrefixedString(r)
		if err != nil {
			return fmt.Errorf("load module: read import %d module: %w", i, err)
		}
		name, err := readLenPrefixedString(r)
		if err != nil {
			return fmt.Errorf("load module: read import %d name: %w", i, err)
		}
		m.Imports = append(m.Imports, Import{Module: modName, Name: name})
	}
	return nil
}

func readExports(r *bytes.Reader, m *Module) error {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("load module: read export count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		name, err := readLenPrefixedString(r)
		if err != nil {
			return fmt.Errorf("load module: read export %d name: %w", i, err)
		}
		var idx uint32
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return fmt.Errorf("load module: read export %d index: %w", i, err)
		}
		m.Exports = append(m.Exports, Export{Name: name, FuncIndex: int(idx)})
	}
	return nil
}

func readFunctions(r *bytes.Reader, m *Module) error {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("load module: read function count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		name, err := readLenPrefixedString(r)
		if err != nil {
			return fmt.Errorf("load module: read function %d name: %w", i, err)
		}

		var numParams, numLocals, numInstr uint32
		if err := binary.Read(r, binary.BigEndian, &numParams); err != nil {
			return fmt.Errorf("load module: read function %d params: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &numLocals); err != nil {
			return fmt.Errorf("load module: read function %d locals: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &numInstr); err != nil {
			return fmt.Errorf("load module: read function %d instr count: %w", i, err)
		}

		fn := Function{Name: name, NumParams: int(numParams), NumLocals: int(numLocals)}
		for j := uint32(0); j < numInstr; j++ {
			var opcode uint8
			if err := binary.Read(r, binary.BigEndian, &opcode); err != nil {
				return fmt.Errorf("load module: function %d instr %d opcode: %w", i, j, err)
			}
			var numOperands uint8
			if err := binary.Read(r, binary.BigEndian, &numOperands); err != nil {
				return fmt.Errorf("load module: function %d instr %d operand count: %w", i, j, err)
			}
			operands := make([]uint64, numOperands)
			for k := range operands {
				if err := binary.Read(r, binary.BigEndian, &operands[k]); err != nil {
					return fmt.Errorf("load module: function %d instr %d operand %d: %w", i, j, k, err)
				}
			}
			fn.Code = append(fn.Code, Instruction{Opcode: opcode, Operands: operands})
		}

		m.Functions = append(m.Functions, fn)
	}
	return nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readLenPrefixedString(r *bytes.Reader) (string, error) {
	b, err := readLenPrefixed(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// validate checks structural invariants Load must reject: an unknown
// architecture, a call target outside the function table, a branch
// target outside the function's code, and an export naming a missing
// function. Constant-pool indices in instruction operands are not
// checked here.
func validate(m *Module) error {
	if !m.Architecture.Valid() {
		return fmt.Errorf("validate module: unknown architecture %q", m.Architecture)
	}

	for fi, fn := range m.Functions {
		for ii, instr := range fn.Code {
			if isCallOpcode(instr.Opcode) {
				if len(instr.Operands) == 0 {
					return fmt.Errorf("validate module: function %d instr %d: call missing target operand", fi, ii)
				}
				target := instr.Operands[0]
				if target >= uint64(len(m.Functions)) {
					return fmt.Errorf("validate module: function %d instr %d: call target %d out of range", fi, ii, target)
				}
			}
			if isBranchOpcode(instr.Opcode) {
				if len(instr.Operands) == 0 {
					return fmt.Errorf("validate module: function %d instr %d: branch missing target operand", fi, ii)
				}
				target := instr.Operands[0]
				if target >= uint64(len(fn.Code)) {
					return fmt.Errorf("validate module: function %d instr %d: branch target %d out of range", fi, ii, target)
				}
			}
		}
	}

	for _, exp := range m.Exports {
		if exp.FuncIndex < 0 || exp.FuncIndex >= len(m.Functions) {
			return fmt.Errorf("validate module: export %q refers to missing function %d", exp.Name, exp.FuncIndex)
		}
	}

	return nil
}
