package pipeline

import (
	"testing"

	"github.com/dotlanth/dotvm/pkg/types"
)

func emptyWasmModule() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

func TestRunEmptyModuleProducesLoadableModule(t *testing.T) {
	e := New(Config{Architecture: types.Arch64, Level: LevelDebug})
	m, err := e.Run(emptyWasmModule())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.Architecture != types.Arch64 {
		t.Fatalf("architecture not preserved: %v", m.Architecture)
	}
	if len(m.Functions) != 0 {
		t.Fatalf("expected no functions in an empty module, got %d", len(m.Functions))
	}
}

func TestRunRejectsBadMagic(t *testing.T) {
	e := New(Config{Architecture: types.Arch64, Level: LevelRelease})
	_, err := e.Run([]byte{0, 1, 2, 3})
	if err == nil {
		t.Fatal("expected parse error for malformed wasm")
	}
}

func TestRunRespectsOptimizationLevel(t *testing.T) {
	debug := New(Config{Architecture: types.Arch256, Level: LevelDebug})
	release := New(Config{Architecture: types.Arch256, Level: LevelRelease})

	if _, err := debug.Run(emptyWasmModule()); err != nil {
		t.Fatalf("debug run: %v", err)
	}
	if _, err := release.Run(emptyWasmModule()); err != nil {
		t.Fatalf("release run: %v", err)
	}
}
