// Package hostapi defines the VM-host contract spec.md §6 describes:
// the narrow surface an external collaborator (a gateway, a CLI, a
// gRPC service shim) drives a deployed dot through. This package only
// declares the interface; pkg/engine provides the concrete
// implementation wiring C4 (bytecode engine), C5 (WASM transpiler),
// and C6 (database bridge) together. No gRPC/REST server is generated
// here — that surface is explicitly out of scope per spec.md §1.
package hostapi

import (
	"context"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
)

// DeployRequest carries either ready-made DotVM bytecode or a raw WASM
// binary to transpile before deploying, keyed by target architecture.
type DeployRequest struct {
	DotID        types.DotID
	Architecture types.Architecture
	Bytecode     []byte // pre-built module.Module encoding; mutually exclusive with Wasm
	Wasm         []byte // WASM binary to transpile before deploying
	Quota        types.ResourceQuota
	Capabilities []types.Capability
	Priority     types.Priority // scheduling class every execution of this dot runs under; zero is PriorityLow
}

// ExecuteRequest starts or resumes one call into a deployed dot.
type ExecuteRequest struct {
	DotID       types.DotID
	FuncIndex   int
	Inputs      map[string]arch.Word // named arguments the dot reads via the Input opcode; ignored on resume
	ResumeToken string               // non-empty to resume a Waiting context instead of starting fresh
}

// Host is the VM-host contract: Deploy, Execute, GetState, Validate,
// ListArchitectures.
type Host interface {
	// Deploy loads (transpiling from WASM first if req.Wasm is set)
	// and registers a dot under req.DotID, ready for Execute.
	Deploy(ctx context.Context, req DeployRequest) error
	// Execute runs or resumes one execution context and blocks until
	// it reaches a terminal or waiting state.
	Execute(ctx context.Context, req ExecuteRequest) (exec.Outcome, error)
	// GetState reports dotID's deployment state: whether it is
	// deployed, which architecture it targets, and its export table.
	GetState(dotID types.DotID) (DotState, error)
	// Validate checks bytecode or a WASM binary without deploying it.
	Validate(req DeployRequest) error
	// ListArchitectures reports every architecture the host can
	// execute, in ascending word-width order.
	ListArchitectures() []types.Architecture
}

// DotState is GetState's result.
type DotState struct {
	DotID        types.DotID
	Architecture types.Architecture
	Exports      []string
}
