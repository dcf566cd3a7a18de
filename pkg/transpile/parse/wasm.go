// Package parse implements stage one of the WASM transpiler: a
// hand-written binary reader that turns a WASM module's byte stream
// into the abstract Module form the analyze stage consumes. No pack
// library decodes WASM, so this is core transpiler logic assigned to
// us rather than an ambient concern.
package parse

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dotlanth/dotvm/pkg/dverr"
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6d} // "\0asm"

const supportedVersion = 1

// Parse decodes a WASM binary module into its abstract form.
func Parse(raw []byte) (*Module, error) {
	if len(raw) < 8 {
		return nil, dverr.Wrap(dverr.InvalidWasm, "parse.Parse", fmt.Errorf("module too short (%d bytes)", len(raw)))
	}
	var gotMagic [4]byte
	copy(gotMagic[:], raw[0:4])
	if gotMagic != magic {
		return nil, dverr.Wrap(dverr.InvalidWasm, "parse.Parse", fmt.Errorf("bad magic %x", gotMagic))
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != supportedVersion {
		return nil, dverr.Wrap(dverr.InvalidWasm, "parse.Parse", fmt.Errorf("unsupported wasm version %d", version))
	}

	m := &Module{}
	offset := 8

	for offset < len(raw) {
		id := raw[offset]
		offset++
		size, next, err := readULEB128(raw, offset)
		if err != nil {
			return nil, dverr.Wrap(dverr.InvalidWasm, "parse.Parse", err)
		}
		offset = next
		if offset+int(size) > len(raw) {
			return nil, dverr.Wrap(dverr.InvalidWasm, "parse.Parse", fmt.Errorf("section %d overruns module (offset %d, size %d)", id, offset, size))
		}
		body := raw[offset : offset+int(size)]
		offset += int(size)

		if err := parseSection(m, id, body); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func parseSection(m *Module, id byte, body []byte) error {
	switch id {
	case 0x01: // Type
		return parseTypeSection(m, body)
	case 0x02: // Import
		return parseImportSection(m, body)
	case 0x03: // Function
		return parseFunctionSection(m, body)
	case 0x05: // Memory
		return parseMemorySection(m, body)
	case 0x06: // Global
		return parseGlobalSection(m, body)
	case 0x07: // Export
		return parseExportSection(m, body)
	case 0x0a: // Code
		return parseCodeSection(m, body)
	case 0x0b: // Data
		return parseDataSection(m, body)
	default:
		// Custom sections (0x00), tables, element, start: not needed
		// for the opcode subset this transpiler maps.
		return nil
	}
}

func valType(b byte) (ValType, error) {
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64:
		return ValType(b), nil
	default:
		return 0, dverr.Wrap(dverr.UnsupportedFeature, "parse.valType", fmt.Errorf("unsupported value type 0x%x", b))
	}
}

func parseTypeSection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseTypeSection", err)
	}
	for i := uint64(0); i < count; i++ {
		if offset >= len(body) || body[offset] != 0x60 {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseTypeSection", fmt.Errorf("expected func type tag at offset %d", offset))
		}
		offset++

		ft := FuncType{}
		nParams, o, err := readULEB128(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseTypeSection", err)
		}
		offset = o
		for p := uint64(0); p < nParams; p++ {
			vt, err := valType(body[offset])
			if err != nil {
				return err
			}
			ft.Params = append(ft.Params, vt)
			offset++
		}

		nResults, o, err := readULEB128(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseTypeSection", err)
		}
		offset = o
		if nResults > 1 {
			m.Features.MultiValue = true
		}
		for r := uint64(0); r < nResults; r++ {
			vt, err := valType(body[offset])
			if err != nil {
				return err
			}
			ft.Results = append(ft.Results, vt)
			offset++
		}

		m.Types = append(m.Types, ft)
	}
	return nil
}

func readString(body []byte, offset int) (string, int, error) {
	n, o, err := readULEB128(body, offset)
	if err != nil {
		return "", 0, err
	}
	if o+int(n) > len(body) {
		return "", 0, fmt.Errorf("parse: truncated string at offset %d", offset)
	}
	return string(body[o : o+int(n)]), o + int(n), nil
}

func parseImportSection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseImportSection", err)
	}
	for i := uint64(0); i < count; i++ {
		mod, o, err := readString(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseImportSection", err)
		}
		offset = o
		name, o, err := readString(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseImportSection", err)
		}
		offset = o

		kindByte := body[offset]
		offset++

		imp := Import{Module: mod, Name: name}
		switch kindByte {
		case 0x00: // func
			idx, o, err := readULEB128(body, offset)
			if err != nil {
				return dverr.Wrap(dverr.InvalidWasm, "parse.parseImportSection", err)
			}
			offset = o
			imp.Kind = "func"
			imp.Index = uint32(idx)
		case 0x01: // table
			offset = skipTableType(body, offset)
			imp.Kind = "table"
		case 0x02: // memory
			lim, o, err := readLimits(body, offset)
			if err != nil {
				return dverr.Wrap(dverr.InvalidWasm, "parse.parseImportSection", err)
			}
			offset = o
			imp.Kind = "memory"
			m.Memories = append(m.Memories, lim)
		case 0x03: // global
			offset += 2 // valtype + mutability
			imp.Kind = "global"
		default:
			return dverr.Wrap(dverr.UnsupportedFeature, "parse.parseImportSection", fmt.Errorf("unknown import kind 0x%x", kindByte))
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func skipTableType(body []byte, offset int) int {
	offset++ // elemtype
	_, offset, _ = readLimitsRaw(body, offset)
	return offset
}

func readLimitsRaw(body []byte, offset int) (Memory, int, error) {
	return readLimits(body, offset)
}

func readLimits(body []byte, offset int) (Memory, int, error) {
	flags := body[offset]
	offset++
	min, o, err := readULEB128(body, offset)
	if err != nil {
		return Memory{}, 0, err
	}
	offset = o
	mem := Memory{MinPages: uint32(min)}
	if flags&0x01 != 0 {
		max, o, err := readULEB128(body, offset)
		if err != nil {
			return Memory{}, 0, err
		}
		offset = o
		mem.MaxPages = uint32(max)
		mem.HasMax = true
	}
	return mem, offset, nil
}

func parseFunctionSection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseFunctionSection", err)
	}
	for i := uint64(0); i < count; i++ {
		idx, o, err := readULEB128(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseFunctionSection", err)
		}
		offset = o
		m.FuncTypes = append(m.FuncTypes, uint32(idx))
	}
	return nil
}

func parseMemorySection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseMemorySection", err)
	}
	for i := uint64(0); i < count; i++ {
		lim, o, err := readLimits(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseMemorySection", err)
		}
		offset = o
		m.Memories = append(m.Memories, lim)
	}
	return nil
}

func parseGlobalSection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseGlobalSection", err)
	}
	for i := uint64(0); i < count; i++ {
		vt, err := valType(body[offset])
		if err != nil {
			return err
		}
		offset++
		mutable := body[offset] != 0
		offset++

		init, o, err := decodeInstructions(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseGlobalSection", err)
		}
		offset = o

		m.Globals = append(m.Globals, Global{Type: vt, Mutable: mutable, Init: init})
	}
	return nil
}

func parseExportSection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseExportSection", err)
	}
	for i := uint64(0); i < count; i++ {
		name, o, err := readString(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseExportSection", err)
		}
		offset = o
		kindByte := body[offset]
		offset++
		idx, o, err := readULEB128(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseExportSection", err)
		}
		offset = o

		kind := "func"
		switch kindByte {
		case 0x00:
			kind = "func"
		case 0x01:
			kind = "table"
		case 0x02:
			kind = "memory"
		case 0x03:
			kind = "global"
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: uint32(idx)})
	}
	return nil
}

func parseCodeSection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseCodeSection", err)
	}
	for i := uint64(0); i < count; i++ {
		bodySize, o, err := readULEB128(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseCodeSection", err)
		}
		offset = o
		end := offset + int(bodySize)
		if end > len(body) {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseCodeSection", fmt.Errorf("function body %d overruns code section", i))
		}
		fnBody := body[offset:end]
		offset = end

		fn, err := decodeFunction(fnBody)
		if err != nil {
			return err
		}
		if int(i) < len(m.FuncTypes) {
			fn.TypeIndex = m.FuncTypes[i]
		}
		m.Functions = append(m.Functions, fn)
	}
	return nil
}

func decodeFunction(body []byte) (Function, error) {
	localGroups, offset, err := readULEB128(body, 0)
	if err != nil {
		return Function{}, dverr.Wrap(dverr.InvalidWasm, "parse.decodeFunction", err)
	}

	fn := Function{}
	for g := uint64(0); g < localGroups; g++ {
		n, o, err := readULEB128(body, offset)
		if err != nil {
			return Function{}, dverr.Wrap(dverr.InvalidWasm, "parse.decodeFunction", err)
		}
		offset = o
		vt, err := valType(body[offset])
		if err != nil {
			return Function{}, err
		}
		offset++
		for k := uint64(0); k < n; k++ {
			fn.Locals = append(fn.Locals, vt)
		}
	}

	body2, offset2, err := decodeInstructions(body, offset)
	if err != nil {
		return Function{}, dverr.Wrap(dverr.InvalidWasm, "parse.decodeFunction", err)
	}
	_ = offset2
	fn.Body = body2
	return fn, nil
}

func parseDataSection(m *Module, body []byte) error {
	count, offset, err := readULEB128(body, 0)
	if err != nil {
		return dverr.Wrap(dverr.InvalidWasm, "parse.parseDataSection", err)
	}
	for i := uint64(0); i < count; i++ {
		memIdx, o, err := readULEB128(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseDataSection", err)
		}
		offset = o

		init, o, err := decodeInstructions(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseDataSection", err)
		}
		offset = o

		var segOffset int32
		if len(init) == 1 && init[0].Op == OpI32Const {
			segOffset = int32(init[0].Imm)
		}

		n, o, err := readULEB128(body, offset)
		if err != nil {
			return dverr.Wrap(dverr.InvalidWasm, "parse.parseDataSection", err)
		}
		offset = o
		bytes := append([]byte{}, body[offset:offset+int(n)]...)
		offset += int(n)

		m.Data = append(m.Data, DataSegment{MemoryIndex: uint32(memIdx), Offset: segOffset, Bytes: bytes})
	}
	return nil
}

// decodeInstructions reads a sequence of instructions up to their
// matching top-level "end". Unrecognized opcodes surface as
// UnsupportedFeature rather than being guessed at, since a wrong
// guess here would silently corrupt every later transpiler stage.
func decodeInstructions(body []byte, offset int) ([]Instruction, int, error) {
	var out []Instruction
	depth := 0
	for offset < len(body) {
		b := body[offset]
		offset++

		switch b {
		case 0x00:
			out = append(out, Instruction{Op: OpUnreachable})
		case 0x01:
			out = append(out, Instruction{Op: OpNop})
		case 0x02, 0x03, 0x04:
			depth++
			_, o, err := readSLEB128(body, offset)
			if err != nil {
				return nil, 0, err
			}
			offset = o
			op := OpBlock
			if b == 0x03 {
				op = OpLoop
			} else if b == 0x04 {
				op = OpIf
			}
			out = append(out, Instruction{Op: op})
			continue
		case 0x05:
			out = append(out, Instruction{Op: OpElse})
		case 0x0b:
			out = append(out, Instruction{Op: OpEnd})
			if depth > 0 {
				depth--
				continue
			}
			return out, offset, nil
		case 0x0c, 0x0d:
			d, o, err := readULEB128(body, offset)
			if err != nil {
				return nil, 0, err
			}
			offset = o
			op := OpBr
			if b == 0x0d {
				op = OpBrIf
			}
			out = append(out, Instruction{Op: op, Imm: int64(d)})
		case 0x0f:
			out = append(out, Instruction{Op: OpReturn})
		case 0x10:
			idx, o, err := readULEB128(body, offset)
			if err != nil {
				return nil, 0, err
			}
			offset = o
			out = append(out, Instruction{Op: OpCall, Imm: int64(idx)})
		case 0x1a:
			out = append(out, Instruction{Op: OpDrop})
		case 0x20, 0x21, 0x22:
			idx, o, err := readULEB128(body, offset)
			if err != nil {
				return nil, 0, err
			}
			offset = o
			op := OpLocalGet
			if b == 0x21 {
				op = OpLocalSet
			} else if b == 0x22 {
				op = OpLocalTee
			}
			out = append(out, Instruction{Op: op, Imm: int64(idx)})
		case 0x23, 0x24:
			idx, o, err := readULEB128(body, offset)
			if err != nil {
				return nil, 0, err
			}
			offset = o
			op := OpGlobalGet
			if b == 0x24 {
				op = OpGlobalSet
			}
			out = append(out, Instruction{Op: op, Imm: int64(idx)})
		case 0x41:
			v, o, err := readSLEB128(body, offset)
			if err != nil {
				return nil, 0, err
			}
			offset = o
			out = append(out, Instruction{Op: OpI32Const, Imm: v})
		case 0x42:
			v, o, err := readSLEB128(body, offset)
			if err != nil {
				return nil, 0, err
			}
			offset = o
			out = append(out, Instruction{Op: OpI64Const, Imm: v})
		case 0x43:
			bits := binary.LittleEndian.Uint32(body[offset : offset+4])
			offset += 4
			out = append(out, Instruction{Op: OpF32Const, Imm: int64(bits)})
			_ = math.Float32frombits(bits)
		case 0x44:
			bits := binary.LittleEndian.Uint64(body[offset : offset+8])
			offset += 8
			out = append(out, Instruction{Op: OpF64Const, Imm: int64(bits)})
		case 0x45:
			out = append(out, Instruction{Op: OpI32Eqz})
		case 0x46:
			out = append(out, Instruction{Op: OpI32Eq})
		case 0x48:
			out = append(out, Instruction{Op: OpI32LtS})
		case 0x4a:
			out = append(out, Instruction{Op: OpI32GtS})
		case 0x6a:
			out = append(out, Instruction{Op: OpI32Add})
		case 0x6b:
			out = append(out, Instruction{Op: OpI32Sub})
		case 0x6c:
			out = append(out, Instruction{Op: OpI32Mul})
		case 0x6d:
			out = append(out, Instruction{Op: OpI32DivS})
		case 0x6e:
			out = append(out, Instruction{Op: OpI32DivU})
		case 0x71:
			out = append(out, Instruction{Op: OpI32And})
		case 0x72:
			out = append(out, Instruction{Op: OpI32Or})
		case 0x73:
			out = append(out, Instruction{Op: OpI32Xor})
		case 0x7c:
			out = append(out, Instruction{Op: OpI64Add})
		case 0x7d:
			out = append(out, Instruction{Op: OpI64Sub})
		case 0x7e:
			out = append(out, Instruction{Op: OpI64Mul})
		case 0x7f:
			out = append(out, Instruction{Op: OpI64DivS})
		case 0x80:
			out = append(out, Instruction{Op: OpI64DivU})
		default:
			return nil, 0, dverr.Wrap(dverr.UnsupportedFeature, "parse.decodeInstructions", fmt.Errorf("unsupported opcode 0x%x at offset %d", b, offset-1))
		}
	}
	return out, offset, nil
}
