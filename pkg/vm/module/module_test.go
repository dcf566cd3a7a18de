package module

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModule() *Module {
	return &Module{
		Architecture: types.Arch256,
		Constants: []Const{
			{Kind: ConstInt, Int: 42},
			{Kind: ConstString, Bytes: []byte("hello")},
		},
		Imports: []Import{
			{Module: "host", Name: "storage_get"},
		},
		Exports: []Export{
			{Name: "main", FuncIndex: 0},
		},
		Functions: []Function{
			{
				Name:      "main",
				NumParams: 0,
				NumLocals: 2,
				Code: []Instruction{
					{Opcode: 0x01, Operands: []uint64{0}},
					{Opcode: OpBr, Operands: []uint64{0}},
					{Opcode: OpCall, Operands: []uint64{0}},
				},
			},
		},
	}
}

func TestEncodeLoadRoundTrip(t *testing.T) {
	m := sampleModule()

	raw, err := Encode(m)
	require.NoError(t, err)

	got, err := Load(raw)
	require.NoError(t, err)

	assert.Equal(t, m.Architecture, got.Architecture)
	assert.Equal(t, m.Constants, got.Constants)
	assert.Equal(t, m.Imports, got.Imports)
	assert.Equal(t, m.Exports, got.Exports)
	assert.Equal(t, m.Functions, got.Functions)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	raw, err := Encode(sampleModule())
	require.NoError(t, err)
	raw[0] ^= 0xFF

	_, err = Load(raw)
	assert.Error(t, err)
}

func TestLoadRejectsCorruptChecksum(t *testing.T) {
	raw, err := Encode(sampleModule())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF

	_, err = Load(raw)
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeCallTarget(t *testing.T) {
	m := sampleModule()
	m.Functions[0].Code = []Instruction{
		{Opcode: OpCall, Operands: []uint64{99}},
	}

	_, err := Encode(m)
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeBranchTarget(t *testing.T) {
	m := sampleModule()
	m.Functions[0].Code = []Instruction{
		{Opcode: OpBr, Operands: []uint64{99}},
	}

	_, err := Encode(m)
	assert.Error(t, err)
}

func TestValidateRejectsDanglingExport(t *testing.T) {
	m := sampleModule()
	m.Exports = []Export{{Name: "ghost", FuncIndex: 5}}

	_, err := Encode(m)
	assert.Error(t, err)
}
