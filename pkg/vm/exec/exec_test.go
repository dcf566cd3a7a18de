package exec

import (
	"context"
	"testing"
	"time"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/module"
	"github.com/dotlanth/dotvm/pkg/vm/observer"
	"github.com/dotlanth/dotvm/pkg/vm/sandbox"
	"github.com/stretchr/testify/require"
)

const (
	opPush byte = 0x01
	opHalt byte = 0x02
	opWait byte = 0x03
)

func testHandlers() *HandlerTable {
	var t HandlerTable
	t[opPush] = func(c *Context, instr module.Instruction) (Signal, error) {
		return SignalContinue, c.Stack.Push(arch.FromUint64(instr.Operands[0]))
	}
	t[opHalt] = func(c *Context, instr module.Instruction) (Signal, error) {
		return SignalReturn, nil
	}
	t[opWait] = func(c *Context, instr module.Instruction) (Signal, error) {
		return SignalWait, nil
	}
	return &t
}

func newTestSandbox(t *testing.T) (*sandbox.Sandbox, *observer.Bus) {
	t.Helper()
	bus := observer.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	sb, err := sandbox.New(sandbox.Policy{
		DefaultCapabilities: []types.Capability{types.CapMemoryAlloc},
		DefaultQuota:        types.ResourceQuota{MaxInstructions: 1000, MaxWallTime: time.Minute},
	}, t.TempDir(), bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Close() })

	return sb, bus
}

func haltingModule() *module.Module {
	return &module.Module{
		Architecture: types.Arch256,
		Functions: []module.Function{
			{
				Name: "main",
				Code: []module.Instruction{
					{Opcode: opPush, Operands: []uint64{41}},
					{Opcode: opHalt},
				},
			},
		},
	}
}

func TestRunCompletesOnHalt(t *testing.T) {
	sb, bus := newTestSandbox(t)
	m := haltingModule()

	ctx, err := New("ctx-1", "dot-1", m, 0, types.ResourceQuota{MaxInstructions: 1000, MaxWallTime: time.Minute}, nil, nil, sb, bus)
	require.NoError(t, err)
	defer ctx.Close()

	out := ctx.Run(context.Background(), testHandlers())
	require.NoError(t, out.Err)
	require.Equal(t, types.ContextCompleted, out.State)
	require.Equal(t, uint64(2), out.Instructions)
}

func TestRunReportsInputsOutputsAndLogs(t *testing.T) {
	sb, bus := newTestSandbox(t)
	const opEcho byte = 0x04
	handlers := testHandlers()
	handlers[opEcho] = func(c *Context, instr module.Instruction) (Signal, error) {
		w, _ := c.Input("amount")
		c.SetOutput("doubled", arch.FromUint64(w.Uint64()*2))
		c.Log("echoed amount")
		return SignalContinue, nil
	}

	m := &module.Module{
		Architecture: types.Arch64,
		Functions: []module.Function{
			{Name: "echo", Code: []module.Instruction{{Opcode: opEcho}, {Opcode: opHalt}}},
		},
	}

	inputs := map[string]arch.Word{"amount": arch.FromUint64(21)}
	ctx, err := New("ctx-echo", "dot-1", m, 0, types.ResourceQuota{MaxInstructions: 1000, MaxWallTime: time.Minute}, nil, inputs, sb, bus)
	require.NoError(t, err)
	defer ctx.Close()

	out := ctx.Run(context.Background(), handlers)
	require.NoError(t, out.Err)
	require.Equal(t, uint64(42), out.Outputs["doubled"].Uint64())
	require.Equal(t, []string{"echoed amount"}, out.Logs)
}

func TestRunFallsOffEndCompletes(t *testing.T) {
	sb, bus := newTestSandbox(t)
	m := &module.Module{
		Architecture: types.Arch64,
		Functions: []module.Function{
			{Name: "empty", Code: []module.Instruction{{Opcode: opPush, Operands: []uint64{1}}}},
		},
	}

	ctx, err := New("ctx-2", "dot-1", m, 0, types.ResourceQuota{}, nil, nil, sb, bus)
	require.NoError(t, err)
	defer ctx.Close()

	out := ctx.Run(context.Background(), testHandlers())
	require.Equal(t, types.ContextCompleted, out.State)
}

func TestRunTrapsOnUnknownOpcode(t *testing.T) {
	sb, bus := newTestSandbox(t)
	m := &module.Module{
		Architecture: types.Arch64,
		Functions: []module.Function{
			{Name: "bad", Code: []module.Instruction{{Opcode: 0xEE}}},
		},
	}

	ctx, err := New("ctx-3", "dot-1", m, 0, types.ResourceQuota{}, nil, nil, sb, bus)
	require.NoError(t, err)
	defer ctx.Close()

	out := ctx.Run(context.Background(), testHandlers())
	require.Error(t, out.Err)
	require.Equal(t, types.ContextFailed, out.State)
}

func TestRunSuspendsOnWait(t *testing.T) {
	sb, bus := newTestSandbox(t)
	m := &module.Module{
		Architecture: types.Arch64,
		Functions: []module.Function{
			{Name: "waiter", Code: []module.Instruction{
				{Opcode: opWait},
				{Opcode: opHalt},
			}},
		},
	}

	ctx, err := New("ctx-4", "dot-1", m, 0, types.ResourceQuota{}, nil, nil, sb, bus)
	require.NoError(t, err)
	defer ctx.Close()

	out := ctx.Run(context.Background(), testHandlers())
	require.Equal(t, types.ContextWaiting, out.State)

	ctx.setState(types.ContextSuspended)
	out = ctx.Run(context.Background(), testHandlers())
	require.Equal(t, types.ContextCompleted, out.State)
}

func TestRunRespectsCancellation(t *testing.T) {
	sb, bus := newTestSandbox(t)
	m := haltingModule()

	ctx, err := New("ctx-5", "dot-1", m, 0, types.ResourceQuota{}, nil, nil, sb, bus)
	require.NoError(t, err)
	defer ctx.Close()

	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := ctx.Run(cctx, testHandlers())
	require.Equal(t, types.ContextCancelled, out.State)
}

func TestRunEnforcesInstructionQuota(t *testing.T) {
	sb, bus := newTestSandbox(t)
	m := &module.Module{
		Architecture: types.Arch64,
		Functions: []module.Function{
			{Name: "loopish", Code: []module.Instruction{
				{Opcode: opPush, Operands: []uint64{1}},
				{Opcode: opPush, Operands: []uint64{1}},
				{Opcode: opPush, Operands: []uint64{1}},
				{Opcode: opHalt},
			}},
		},
	}

	ctx, err := New("ctx-6", "dot-1", m, 0, types.ResourceQuota{MaxInstructions: 2}, nil, nil, sb, bus)
	require.NoError(t, err)
	defer ctx.Close()

	out := ctx.Run(context.Background(), testHandlers())
	require.Error(t, out.Err)
	require.Equal(t, types.ContextFailed, out.State)
}
