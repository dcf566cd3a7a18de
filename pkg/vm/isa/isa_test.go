package isa

import (
	"testing"
	"time"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/module"
	"github.com/dotlanth/dotvm/pkg/vm/observer"
	"github.com/dotlanth/dotvm/pkg/vm/sandbox"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, fn module.Function) *exec.Context {
	t.Helper()

	bus := observer.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	sb, err := sandbox.New(sandbox.Policy{
		DefaultCapabilities: []types.Capability{
			types.CapMemoryAlloc, types.CapStorageRead, types.CapStorageWrite,
			types.CapCryptoEncrypt, types.CapSyscall,
		},
		DefaultQuota: types.ResourceQuota{MaxInstructions: 1000, MaxWallTime: time.Minute},
	}, t.TempDir(), bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Close() })

	m := &module.Module{Architecture: types.Arch256, Functions: []module.Function{fn}}

	c, err := exec.New("ctx", "dot", m, 0, types.ResourceQuota{MaxInstructions: 1000, MaxWallTime: time.Minute}, nil, nil, sb, bus)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c
}

func TestArithmeticAdd(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	require.NoError(t, c.Stack.Push(arch.FromUint64(2)))
	require.NoError(t, c.Stack.Push(arch.FromUint64(3)))

	u := NewArithmetic(OverflowWrap)
	var table exec.HandlerTable
	u.Register(&table)

	sig, err := table[OpAdd](c, module.Instruction{Opcode: OpAdd})
	require.NoError(t, err)
	require.Equal(t, exec.SignalContinue, sig)

	result, err := c.Stack.Pop()
	require.NoError(t, err)
	require.Equal(t, uint64(5), result.Uint64())
}

func TestArithmeticDivByZero(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	require.NoError(t, c.Stack.Push(arch.FromUint64(10)))
	require.NoError(t, c.Stack.Push(arch.FromUint64(0)))

	u := NewArithmetic(OverflowWrap)
	var table exec.HandlerTable
	u.Register(&table)

	_, err := table[OpDiv](c, module.Instruction{Opcode: OpDiv})
	require.Error(t, err)
}

func TestComparisonOpsProduceDistinctResults(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	var table exec.HandlerTable
	RegisterComparisonOps(&table)

	push2 := func(x, y uint64) {
		require.NoError(t, c.Stack.Push(arch.FromUint64(x)))
		require.NoError(t, c.Stack.Push(arch.FromUint64(y)))
	}
	run := func(op byte) uint64 {
		_, err := table[op](c, module.Instruction{Opcode: op})
		require.NoError(t, err)
		w, err := c.Stack.Pop()
		require.NoError(t, err)
		return w.Uint64()
	}

	push2(3, 3)
	require.Equal(t, uint64(1), run(OpEq))
	push2(3, 4)
	require.Equal(t, uint64(0), run(OpEq))

	push2(3, 4)
	require.Equal(t, uint64(1), run(OpLtS))
	push2(4, 3)
	require.Equal(t, uint64(0), run(OpLtS))

	push2(4, 3)
	require.Equal(t, uint64(1), run(OpGtS))
	push2(3, 4)
	require.Equal(t, uint64(0), run(OpGtS))

	require.NoError(t, c.Stack.Push(arch.FromUint64(0)))
	require.Equal(t, uint64(1), run(OpEqz))
	require.NoError(t, c.Stack.Push(arch.FromUint64(5)))
	require.Equal(t, uint64(0), run(OpEqz))
}

func TestPushConstAndDup(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.Module.Constants = []module.Const{{Kind: module.ConstInt, Int: 99}}

	var table exec.HandlerTable
	RegisterStackOps(&table)

	_, err := table[OpPushConst](c, module.Instruction{Opcode: OpPushConst, Operands: []uint64{0}})
	require.NoError(t, err)

	_, err = table[OpDup](c, module.Instruction{Opcode: OpDup})
	require.NoError(t, err)
	require.Equal(t, 2, c.Stack.Depth())
}

func TestBrIfTakesBranchOnNonzero(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	require.NoError(t, c.Stack.Push(arch.FromUint64(1)))

	var table exec.HandlerTable
	RegisterControlOps(&table)

	sig, err := table[OpBrIf](c, module.Instruction{Opcode: OpBrIf, Operands: []uint64{7}})
	require.NoError(t, err)
	require.Equal(t, exec.SignalJump, sig)
}

func TestBrIfSkipsOnZero(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	require.NoError(t, c.Stack.Push(arch.FromUint64(0)))

	var table exec.HandlerTable
	RegisterControlOps(&table)

	sig, err := table[OpBrIf](c, module.Instruction{Opcode: OpBrIf, Operands: []uint64{7}})
	require.NoError(t, err)
	require.Equal(t, exec.SignalContinue, sig)
}

type fakeMemory struct {
	data map[uint64]byte
	next uint64
}

func (f *fakeMemory) Load(addr uint64) (byte, error)  { return f.data[addr], nil }
func (f *fakeMemory) Store(addr uint64, b byte) error { f.data[addr] = b; return nil }

func (f *fakeMemory) Allocate(size uint64) (uint64, error) {
	addr := f.next
	f.next += size
	return addr, nil
}

func (f *fakeMemory) Deallocate(addr uint64) error { return nil }

func TestMemoryLoadStoreRoundTrip(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.WithMemory(&fakeMemory{data: make(map[uint64]byte)})

	var table exec.HandlerTable
	RegisterMemoryOps(&table)

	require.NoError(t, c.Stack.Push(arch.FromUint64(10))) // addr
	require.NoError(t, c.Stack.Push(arch.FromUint64(42))) // value
	_, err := table[OpMemStore](c, module.Instruction{Opcode: OpMemStore})
	require.NoError(t, err)

	require.NoError(t, c.Stack.Push(arch.FromUint64(10))) // addr
	_, err = table[OpMemLoad](c, module.Instruction{Opcode: OpMemLoad})
	require.NoError(t, err)

	got, err := c.Stack.Pop()
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.Uint64())
}

func TestMemoryOpsWithoutManagerTraps(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})

	var table exec.HandlerTable
	RegisterMemoryOps(&table)

	require.NoError(t, c.Stack.Push(arch.FromUint64(10)))
	_, err := table[OpMemLoad](c, module.Instruction{Opcode: OpMemLoad})
	require.Error(t, err)
}

type fakeBridge struct {
	docs map[string][]byte
}

func (f *fakeBridge) Get(collection, id string) ([]byte, error) { return f.docs[collection+"/"+id], nil }
func (f *fakeBridge) Put(collection, id string, doc []byte) error {
	f.docs[collection+"/"+id] = doc
	return nil
}
func (f *fakeBridge) Delete(collection, id string) error {
	delete(f.docs, collection+"/"+id)
	return nil
}

func (f *fakeBridge) Update(collection, id string, doc []byte, expectedRevision uint64) error {
	f.docs[collection+"/"+id] = doc
	return nil
}

func (f *fakeBridge) CreateCollection(collection string) error { return nil }

func TestDatabaseGetMissingReturnsEmpty(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.Module.Constants = []module.Const{
		{Kind: module.ConstString, Bytes: []byte("users")},
		{Kind: module.ConstString, Bytes: []byte("u1")},
	}
	c.WithBridge(&fakeBridge{docs: make(map[string][]byte)})

	var table exec.HandlerTable
	RegisterDatabaseOps(&table)

	_, err := table[OpDBGet](c, module.Instruction{Opcode: OpDBGet, Operands: []uint64{0, 1}})
	require.NoError(t, err)
}

func TestDatabasePutThenGetRoundTripsThroughMemory(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.Module.Constants = []module.Const{
		{Kind: module.ConstString, Bytes: []byte("users")},
		{Kind: module.ConstString, Bytes: []byte("u1")},
	}
	c.WithBridge(&fakeBridge{docs: make(map[string][]byte)})
	c.WithMemory(&fakeMemory{data: make(map[uint64]byte)})

	var table exec.HandlerTable
	RegisterDatabaseOps(&table)
	RegisterMemoryOps(&table)

	doc := []byte(`{"name":"a document longer than 32 bytes to prove it isn't word-capped"}`)

	require.NoError(t, c.Stack.Push(arch.FromUint64(uint64(len(doc)))))
	_, err := table[OpMemAllocate](c, module.Instruction{Opcode: OpMemAllocate})
	require.NoError(t, err)
	base, err := c.Stack.Pop()
	require.NoError(t, err)
	addr := base.Uint64()

	for i, b := range doc {
		require.NoError(t, c.Stack.Push(arch.FromUint64(addr+uint64(i))))
		require.NoError(t, c.Stack.Push(arch.FromUint64(uint64(b))))
		_, err := table[OpMemStore](c, module.Instruction{Opcode: OpMemStore})
		require.NoError(t, err)
	}

	require.NoError(t, c.Stack.Push(arch.FromUint64(addr)))
	require.NoError(t, c.Stack.Push(arch.FromUint64(uint64(len(doc)))))
	_, err = table[OpDBPut](c, module.Instruction{Opcode: OpDBPut, Operands: []uint64{0, 1}})
	require.NoError(t, err)

	_, err = table[OpDBGet](c, module.Instruction{Opcode: OpDBGet, Operands: []uint64{0, 1}})
	require.NoError(t, err)
	gotLen, err := c.Stack.Pop()
	require.NoError(t, err)
	gotPtr, err := c.Stack.Pop()
	require.NoError(t, err)
	require.Equal(t, uint64(len(doc)), gotLen.Uint64())

	got := make([]byte, gotLen.Uint64())
	for i := range got {
		require.NoError(t, c.Stack.Push(arch.FromUint64(gotPtr.Uint64()+uint64(i))))
		_, err := table[OpMemLoad](c, module.Instruction{Opcode: OpMemLoad})
		require.NoError(t, err)
		w, err := c.Stack.Pop()
		require.NoError(t, err)
		got[i] = byte(w.Uint64())
	}
	require.Equal(t, doc, got)
}

func TestPointerArithmetic(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})

	var table exec.HandlerTable
	RegisterMemoryOps(&table)

	require.NoError(t, c.Stack.Push(arch.FromUint64(100)))
	require.NoError(t, c.Stack.Push(arch.FromUint64(10)))
	_, err := table[OpPointerAdd](c, module.Instruction{Opcode: OpPointerAdd})
	require.NoError(t, err)
	sum, err := c.Stack.Pop()
	require.NoError(t, err)
	require.Equal(t, uint64(110), sum.Uint64())

	require.NoError(t, c.Stack.Push(arch.FromUint64(110)))
	require.NoError(t, c.Stack.Push(arch.FromUint64(10)))
	_, err = table[OpPointerSub](c, module.Instruction{Opcode: OpPointerSub})
	require.NoError(t, err)
	diff, err := c.Stack.Pop()
	require.NoError(t, err)
	require.Equal(t, uint64(100), diff.Uint64())
}

func TestMemAllocateThenDeallocate(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.WithMemory(&fakeMemory{data: make(map[uint64]byte)})

	var table exec.HandlerTable
	RegisterMemoryOps(&table)

	require.NoError(t, c.Stack.Push(arch.FromUint64(64)))
	_, err := table[OpMemAllocate](c, module.Instruction{Opcode: OpMemAllocate})
	require.NoError(t, err)
	addr, err := c.Stack.Pop()
	require.NoError(t, err)

	require.NoError(t, c.Stack.Push(addr))
	_, err = table[OpMemDeallocate](c, module.Instruction{Opcode: OpMemDeallocate})
	require.NoError(t, err)
}

func TestDatabaseCreateCollectionThenUpdate(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.Module.Constants = []module.Const{
		{Kind: module.ConstString, Bytes: []byte("users")},
		{Kind: module.ConstString, Bytes: []byte("u1")},
	}
	c.WithBridge(&fakeBridge{docs: make(map[string][]byte)})
	c.WithMemory(&fakeMemory{data: make(map[uint64]byte)})

	var table exec.HandlerTable
	RegisterDatabaseOps(&table)
	RegisterMemoryOps(&table)

	_, err := table[OpDBCreateCollection](c, module.Instruction{Opcode: OpDBCreateCollection, Operands: []uint64{0}})
	require.NoError(t, err)

	require.NoError(t, c.Stack.Push(arch.FromUint64(0))) // ptr, empty body
	require.NoError(t, c.Stack.Push(arch.FromUint64(0))) // len
	require.NoError(t, c.Stack.Push(arch.FromUint64(0))) // expectedRevision: skip check
	_, err = table[OpDBUpdate](c, module.Instruction{Opcode: OpDBUpdate, Operands: []uint64{0, 1}})
	require.NoError(t, err)
}

func TestSyscallInvokesRegisteredFunction(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.Module.Constants = []module.Const{{Kind: module.ConstString, Bytes: []byte("double")}}

	syscalls := NewSyscallTable()
	syscalls.Register("double", types.CapSyscall, func(c *exec.Context, args []uint64) (uint64, error) {
		return args[0] * 2, nil
	})

	var table exec.HandlerTable
	RegisterSyscallOp(&table, syscalls)

	require.NoError(t, c.Stack.Push(arch.FromUint64(21)))
	_, err := table[OpSyscall](c, module.Instruction{Opcode: OpSyscall, Operands: []uint64{0, 1}})
	require.NoError(t, err)

	result, err := c.Stack.Pop()
	require.NoError(t, err)
	require.Equal(t, uint64(42), result.Uint64())
}

func TestSyscallDeniesWhenContextLacksSpecificCapability(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.Module.Constants = []module.Const{{Kind: module.ConstString, Bytes: []byte("send")}}

	syscalls := NewSyscallTable()
	syscalls.Register("send", types.CapNetSend, func(c *exec.Context, args []uint64) (uint64, error) {
		return 0, nil
	})

	var table exec.HandlerTable
	RegisterSyscallOp(&table, syscalls)

	// newTestContext's sandbox never grants CapNetSend, so resolving
	// "send" by name must still fail even though the context holds
	// CapSyscall-adjacent capabilities for other syscalls.
	_, err := table[OpSyscall](c, module.Instruction{Opcode: OpSyscall, Operands: []uint64{0, 0}})
	require.Error(t, err)
}

func TestSyscallUnknownNameErrors(t *testing.T) {
	c := newTestContext(t, module.Function{Name: "f"})
	c.Module.Constants = []module.Const{{Kind: module.ConstString, Bytes: []byte("ghost")}}

	syscalls := NewSyscallTable()

	var table exec.HandlerTable
	RegisterSyscallOp(&table, syscalls)

	_, err := table[OpSyscall](c, module.Instruction{Opcode: OpSyscall, Operands: []uint64{0, 0}})
	require.Error(t, err)
}
