package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotlanth/dotvm/pkg/config"
	"github.com/dotlanth/dotvm/pkg/hostapi"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/isa"
	"github.com/dotlanth/dotvm/pkg/vm/module"
)

var _ hostapi.Host = (*Engine)(nil)

func addModule() *module.Module {
	return &module.Module{
		Architecture: types.Arch64,
		Constants: []module.Const{
			{Kind: module.ConstInt, Int: 2},
			{Kind: module.ConstInt, Int: 3},
		},
		Functions: []module.Function{
			{
				Name: "add",
				Code: []module.Instruction{
					{Opcode: isa.OpPushConst, Operands: []uint64{0}},
					{Opcode: isa.OpPushConst, Operands: []uint64{1}},
					{Opcode: isa.OpAdd},
					{Opcode: isa.OpReturn},
				},
			},
		},
		Exports: []module.Export{{Name: "add", FuncIndex: 0}},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestDeployAndExecuteRunsToCompletion(t *testing.T) {
	e := newTestEngine(t)

	encoded, err := module.Encode(addModule())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Deploy(ctx, hostapi.DeployRequest{
		DotID:        "dot-1",
		Architecture: types.Arch64,
		Bytecode:     encoded,
	}))

	out, err := e.Execute(ctx, hostapi.ExecuteRequest{DotID: "dot-1", FuncIndex: 0})
	require.NoError(t, err)
	require.NoError(t, out.Err)
	require.Equal(t, types.ContextCompleted, out.State)
}

func TestExecuteUnknownDotErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Execute(context.Background(), hostapi.ExecuteRequest{DotID: "ghost", FuncIndex: 0})
	require.Error(t, err)
}

func TestGetStateReportsExports(t *testing.T) {
	e := newTestEngine(t)
	encoded, err := module.Encode(addModule())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Deploy(ctx, hostapi.DeployRequest{
		DotID:        "dot-1",
		Architecture: types.Arch64,
		Bytecode:     encoded,
	}))

	st, err := e.GetState("dot-1")
	require.NoError(t, err)
	require.Equal(t, types.Arch64, st.Architecture)
	require.Equal(t, []string{"add"}, st.Exports)
}

func TestValidateDoesNotRegisterDot(t *testing.T) {
	e := newTestEngine(t)
	encoded, err := module.Encode(addModule())
	require.NoError(t, err)

	require.NoError(t, e.Validate(hostapi.DeployRequest{
		DotID:        "dot-1",
		Architecture: types.Arch64,
		Bytecode:     encoded,
	}))

	_, err = e.GetState("dot-1")
	require.Error(t, err)
}

func TestListArchitecturesReturnsAllFour(t *testing.T) {
	e := newTestEngine(t)
	require.Len(t, e.ListArchitectures(), 4)
}

func TestExecuteRunsConcurrentDotsThroughScheduler(t *testing.T) {
	e := newTestEngine(t)
	encoded, err := module.Encode(addModule())
	require.NoError(t, err)

	ctx := context.Background()
	dotIDs := []types.DotID{"dot-a", "dot-b", "dot-c"}
	for _, id := range dotIDs {
		require.NoError(t, e.Deploy(ctx, hostapi.DeployRequest{
			DotID:        id,
			Architecture: types.Arch64,
			Bytecode:     encoded,
			Priority:     types.PriorityHigh,
		}))
	}

	results := make(chan error, len(dotIDs))
	for _, id := range dotIDs {
		id := id
		go func() {
			out, err := e.Execute(ctx, hostapi.ExecuteRequest{DotID: id, FuncIndex: 0})
			if err != nil {
				results <- err
				return
			}
			if out.State != types.ContextCompleted {
				results <- fmt.Errorf("dot %s: unexpected state %s", id, out.State)
				return
			}
			results <- nil
		}()
	}

	for range dotIDs {
		require.NoError(t, <-results)
	}
}
