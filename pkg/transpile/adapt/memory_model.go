package adapt

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/transpile/parse"
	"github.com/dotlanth/dotvm/pkg/types"
)

// MemoryModelAdapter checks a WASM module's linear-memory declarations
// against C1's flat address space: each architecture bounds how large a
// single allocation may be, so a WASM memory section declaring more
// pages than the target can address fails fast here rather than later
// as a confusing page-manager allocation error. It does not rewrite
// the memory layout.
type MemoryModelAdapter struct {
	Target types.Architecture
}

// NewMemoryModelAdapter builds an adapter for arch.
func NewMemoryModelAdapter(arch types.Architecture) *MemoryModelAdapter {
	return &MemoryModelAdapter{Target: arch}
}

const wasmPageSize = 64 * 1024

// AdaptMemory checks every declared memory's minimum size fits the
// target architecture's addressable range. Page counts are parsed as
// uint32, so Arch64 rejects more than 2^16 pages, Arch128 more than
// 2^24 pages, and Arch256/Arch512 never reject a memory.
func (a *MemoryModelAdapter) AdaptMemory(memories []parse.Memory) error {
	limit := addressLimit(a.Target)
	for i, mem := range memories {
		total := uint64(mem.MinPages) * wasmPageSize
		if total > limit {
			return dverr.Wrap(dverr.UnsupportedFeature, "adapt.AdaptMemory",
				fmt.Errorf("memory %d requires %d bytes, exceeds %s address limit %d", i, total, a.Target, limit))
		}
	}
	return nil
}

func addressLimit(arch types.Architecture) uint64 {
	switch arch {
	case types.Arch64:
		return 1 << 32
	case types.Arch128:
		return 1 << 40
	case types.Arch256, types.Arch512:
		return 1 << 48
	default:
		return 1 << 32
	}
}
