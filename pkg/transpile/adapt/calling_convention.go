package adapt

import (
	"fmt"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

// CallingConventionAdapter fits a translated function's parameter and
// local count into the frame-slot budget its target architecture's
// call stack allows.
type CallingConventionAdapter struct {
	Target types.Architecture
}

// NewCallingConventionAdapter builds an adapter for arch.
func NewCallingConventionAdapter(arch types.Architecture) *CallingConventionAdapter {
	return &CallingConventionAdapter{Target: arch}
}

// maxFrameSlots bounds params+locals per function. Wider architectures
// budget more slots since each Word costs more bytes on the operand
// stack and the frame allocator sizes its arena per architecture.
func maxFrameSlots(arch types.Architecture) int {
	switch arch {
	case types.Arch64:
		return 256
	case types.Arch128:
		return 512
	case types.Arch256:
		return 1024
	case types.Arch512:
		return 2048
	default:
		return 256
	}
}

// AdaptFunction validates fn's frame fits the target's slot budget.
// There is nothing to rewrite in the bytecode itself: DotVM's calling
// convention is uniform across architectures (arguments pushed left to
// right, results left on the stack), only the budget differs.
func (a *CallingConventionAdapter) AdaptFunction(fn *module.Function) error {
	limit := maxFrameSlots(a.Target)
	if fn.NumParams+fn.NumLocals > limit {
		return dverr.Wrap(dverr.UnsupportedFeature, "adapt.AdaptFunction",
			fmt.Errorf("function %q needs %d frame slots, exceeds %s budget %d", fn.Name, fn.NumParams+fn.NumLocals, a.Target, limit))
	}
	return nil
}
