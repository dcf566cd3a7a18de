package module

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Encode serializes m into the on-disk bytecode format Load reads,
// validating it first so a module that would fail to round-trip is
// rejected before any bytes are written.
func Encode(m *Module) ([]byte, error) {
	if err := validate(m); err != nil {
		return nil, fmt.Errorf("encode module: %w", err)
	}

	var body bytes.Buffer
	writeConstants(&body, m)
	writeImports(&body, m)
	writeExports(&body, m)
	writeFunctions(&body, m)

	var out bytes.Buffer
	out.Write(Magic[:])
	binary.Write(&out, binary.BigEndian, uint32(FormatVersion))
	out.WriteByte(archToByte(m.Architecture))
	binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(body.Bytes()))
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) {
	writeLenPrefixed(buf, []byte(s))
}

func writeConstants(buf *bytes.Buffer, m *Module) {
	binary.Write(buf, binary.BigEndian, uint32(len(m.Constants)))
	for _, c := range m.Constants {
		buf.WriteByte(byte(c.Kind))
		switch c.Kind {
		case ConstInt:
			binary.Write(buf, binary.BigEndian, c.Int)
		case ConstBytes, ConstString:
			writeLenPrefixed(buf, c.Bytes)
		}
	}
}

func writeImports(buf *bytes.Buffer, m *Module) {
	binary.Write(buf, binary.BigEndian, uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		writeLenPrefixedString(buf, imp.Module)
		writeLenPrefixedString(buf, imp.Name)
	}
}

func writeExports(buf *bytes.Buffer, m *Module) {
	binary.Write(buf, binary.BigEndian, uint32(len(m.Exports)))
	for _, exp := range m.Exports {
		writeLenPrefixedString(buf, exp.Name)
		binary.Write(buf, binary.BigEndian, uint32(exp.FuncIndex))
	}
}

func writeFunctions(buf *bytes.Buffer, m *Module) {
	binary.Write(buf, binary.BigEndian, uint32(len(m.Functions)))
	for _, fn := range m.Functions {
		writeLenPrefixedString(buf, fn.Name)
		binary.Write(buf, binary.BigEndian, uint32(fn.NumParams))
		binary.Write(buf, binary.BigEndian, uint32(fn.NumLocals))
		binary.Write(buf, binary.BigEndian, uint32(len(fn.Code)))
		for _, instr := range fn.Code {
			buf.WriteByte(instr.Opcode)
			buf.WriteByte(byte(len(instr.Operands)))
			for _, op := range instr.Operands {
				binary.Write(buf, binary.BigEndian, op)
			}
		}
	}
}
