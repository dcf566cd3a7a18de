// Package exec implements the execution-context lifecycle and the
// fetch/decode/dispatch loop that drives one bytecode module's
// function through the handler table pkg/vm/isa registers.
//
// A Context moves through a fixed state machine:
//
//	Created -> Running -> {Suspended, Waiting} -> Running -> Completed | Failed | Cancelled
//
// Suspension and cancellation are only ever observed between
// instructions, never mid-instruction: Run checks the context's state
// and the caller's context.Context before fetching the next
// instruction, not while a handler is executing.
package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/module"
	"github.com/dotlanth/dotvm/pkg/vm/observer"
	"github.com/dotlanth/dotvm/pkg/vm/sandbox"
	"github.com/dotlanth/dotvm/pkg/vm/stack"
)

// Handler implements one opcode. It receives the context and the
// decoded instruction and returns the control-flow signal the
// dispatch loop should act on.
type Handler func(c *Context, instr module.Instruction) (Signal, error)

// MemoryManager is the narrow slice of pkg/memory the memory opcode
// family needs: load/store a single byte at a mapped address, plus
// flat-address Allocate/Deallocate. Defined here, rather than imported
// from pkg/memory, so pkg/vm/exec has no import-time dependency on C1
// — the engine wires a concrete *memory.ExecAdapter in at
// context-construction time.
type MemoryManager interface {
	Load(addr uint64) (byte, error)
	Store(addr uint64, b byte) error
	Allocate(size uint64) (addr uint64, err error)
	Deallocate(addr uint64) error
}

// Bridge is the narrow slice of pkg/bridge.Bridge the database opcode
// family needs. Same import-avoidance rationale as MemoryManager.
type Bridge interface {
	Get(collection, id string) ([]byte, error)
	Put(collection, id string, doc []byte) error
	Delete(collection, id string) error
	Update(collection, id string, doc []byte, expectedRevision uint64) error
	CreateCollection(collection string) error
}

// HandlerTable maps an opcode byte directly to its Handler, avoiding
// an interface dispatch per instruction.
type HandlerTable [256]Handler

// Signal tells the dispatch loop what to do after a handler returns.
type Signal int

const (
	SignalContinue Signal = iota
	SignalJump
	SignalReturn
	SignalSuspend
	SignalWait
)

// Outcome is what Run reports once a context stops running, whether
// because it finished, trapped, or was suspended/cancelled. Outputs,
// Logs, MemoryPeak, and the storage counters are the metrics/events/
// logs half of the execute(dot_id, inputs, options) -> outputs,
// metrics, events, logs host contract; Instructions, State, and Err
// cover the rest.
type Outcome struct {
	State         types.ContextState
	Err           error
	ResumeToken   string
	Instructions  uint64
	Outputs       map[string]arch.Word
	Logs          []string
	MemoryPeak    uint64
	StorageReads  uint64
	StorageWrites uint64
}

// Context is one execution of a module's function: its program
// counter, operand stack, locals, and sandboxed resource accounting.
type Context struct {
	ID           types.ContextID
	DotID        types.DotID
	Architecture arch.Architecture
	Module       *module.Module
	Stack        *stack.Stack
	Quota        types.ResourceQuota
	Token        string
	Memory       MemoryManager
	Bridge       Bridge

	sb  *sandbox.Sandbox
	bus *observer.Bus

	mu            sync.Mutex
	state         types.ContextState
	funcIndex     int
	pc            int
	jumpNext      int
	instrs        uint64
	inputs        map[string]arch.Word
	outputs       map[string]arch.Word
	logs          []string
	memoryPeak    uint64
	storageReads  uint64
	storageWrites uint64
}

// New creates a Context ready to Run function funcIndex of m, admitted
// into sb under quota with caps, or sb's policy defaults when caps is
// nil. inputs is the host-supplied argument map the running module
// reads via Input; it may be nil for a module that takes none.
func New(id types.ContextID, dotID types.DotID, m *module.Module, funcIndex int, quota types.ResourceQuota, caps []types.Capability, inputs map[string]arch.Word, sb *sandbox.Sandbox, bus *observer.Bus) (*Context, error) {
	if funcIndex < 0 || funcIndex >= len(m.Functions) {
		return nil, dverr.Wrap(dverr.InvalidBranchTarget, "exec.New", fmt.Errorf("function index %d out of range", funcIndex))
	}

	tok, err := sb.Admit(id, caps, quota)
	if err != nil {
		return nil, fmt.Errorf("exec.New: admit context %s: %w", id, err)
	}

	fn := m.Functions[funcIndex]
	st := stack.New(0)
	st.PushFrame(-1, funcIndex, fn.NumLocals)

	return &Context{
		ID:           id,
		DotID:        dotID,
		Architecture: m.Architecture,
		Module:       m,
		Stack:        st,
		Quota:        quota,
		Token:        tok.Token,
		sb:           sb,
		bus:          bus,
		state:        types.ContextCreated,
		funcIndex:    funcIndex,
		inputs:       inputs,
		outputs:      make(map[string]arch.Word),
	}, nil
}

// State reports the context's current lifecycle state.
func (c *Context) State() types.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) setState(s types.ContextState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// WithMemory attaches the memory manager the Memory opcode family
// dispatches through, and returns c for chaining at construction time.
func (c *Context) WithMemory(m MemoryManager) *Context {
	c.Memory = m
	return c
}

// WithBridge attaches the database bridge the Database opcode family
// dispatches through, and returns c for chaining at construction time.
func (c *Context) WithBridge(b Bridge) *Context {
	c.Bridge = b
	return c
}

// Check runs the sandbox capability check for this context's token.
func (c *Context) Check(cap types.Capability) error {
	return c.sb.Check(c.ID, c.Token, cap)
}

// Input returns the host-supplied argument named name, set via New's
// inputs map.
func (c *Context) Input(name string) (arch.Word, bool) {
	w, ok := c.inputs[name]
	return w, ok
}

// SetOutput records name/value in this context's output map, returned
// to the host in Outcome.Outputs once Run reaches a terminal state.
func (c *Context) SetOutput(name string, w arch.Word) {
	c.mu.Lock()
	c.outputs[name] = w
	c.mu.Unlock()
}

// Log appends msg to this context's log stream, returned to the host
// in Outcome.Logs.
func (c *Context) Log(msg string) {
	c.mu.Lock()
	c.logs = append(c.logs, msg)
	c.mu.Unlock()
}

// RecordMemoryAccess updates the context's observed memory high-water
// mark if addr+1 exceeds it, reported as Outcome.MemoryPeak.
func (c *Context) RecordMemoryAccess(addr uint64) {
	c.mu.Lock()
	if addr+1 > c.memoryPeak {
		c.memoryPeak = addr + 1
	}
	c.mu.Unlock()
}

// RecordStorageRead increments the storage-read counter reported as
// Outcome.StorageReads.
func (c *Context) RecordStorageRead() {
	c.mu.Lock()
	c.storageReads++
	c.mu.Unlock()
}

// RecordStorageWrite increments the storage-write counter reported as
// Outcome.StorageWrites.
func (c *Context) RecordStorageWrite() {
	c.mu.Lock()
	c.storageWrites++
	c.mu.Unlock()
}

func (c *Context) snapshotMetrics() (outputs map[string]arch.Word, logs []string, memPeak, reads, writes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outputs = make(map[string]arch.Word, len(c.outputs))
	for k, v := range c.outputs {
		outputs[k] = v
	}
	logs = append([]string(nil), c.logs...)
	return outputs, logs, c.memoryPeak, c.storageReads, c.storageWrites
}

// Publish emits an observer event tagged with this context's ID.
func (c *Context) Publish(kind observer.Kind, message string) {
	c.bus.Publish(&observer.Event{Kind: kind, ContextID: c.ID, Message: message})
}

// SetJump requests that the dispatch loop set the program counter to
// target once the current handler returns SignalJump. Handlers for
// branch opcodes call this before returning.
func (c *Context) SetJump(target int) {
	c.jumpNext = target
}

// Run drives the dispatch loop from the context's current program
// counter until it completes, traps, is cancelled via ctx, or
// suspends. It is safe to call Run again on a Suspended context to
// resume it; Run on any other non-Created, non-Suspended state is an
// error.
func (c *Context) Run(ctx context.Context, table *HandlerTable) Outcome {
	outcome := func(state types.ContextState, err error, resumeToken string) Outcome {
		outputs, logs, memPeak, reads, writes := c.snapshotMetrics()
		return Outcome{
			State:         state,
			Err:           err,
			ResumeToken:   resumeToken,
			Instructions:  c.instrs,
			Outputs:       outputs,
			Logs:          logs,
			MemoryPeak:    memPeak,
			StorageReads:  reads,
			StorageWrites: writes,
		}
	}

	state := c.State()
	if state != types.ContextCreated && state != types.ContextSuspended {
		return outcome(state, dverr.Wrap(dverr.Trap, "exec.Run", fmt.Errorf("cannot run context in state %s", state)), "")
	}

	if state == types.ContextCreated {
		c.setState(types.ContextRunning)
		c.Publish(observer.ContextCreated, "")
	} else {
		c.setState(types.ContextRunning)
		c.Publish(observer.ContextResumed, "")
	}

	fn := c.Module.Functions[c.funcIndex]

	for {
		select {
		case <-ctx.Done():
			c.setState(types.ContextCancelled)
			c.Publish(observer.ContextCancelled, ctx.Err().Error())
			return outcome(types.ContextCancelled, ctx.Err(), "")
		default:
		}

		if c.State() == types.ContextCancelled {
			c.Publish(observer.ContextCancelled, "cancelled")
			return outcome(types.ContextCancelled, context.Canceled, "")
		}

		if c.pc >= len(fn.Code) {
			c.setState(types.ContextCompleted)
			c.Publish(observer.ContextCompleted, "")
			return outcome(types.ContextCompleted, nil, "")
		}

		instr := fn.Code[c.pc]

		handler := table[instr.Opcode]
		if handler == nil {
			err := dverr.Wrap(dverr.InvalidOpcode, "exec.Run", fmt.Errorf("no handler registered for opcode 0x%02x", instr.Opcode))
			c.setState(types.ContextFailed)
			c.Publish(observer.InstructionTrapped, err.Error())
			return outcome(types.ContextFailed, err, "")
		}

		sig, err := handler(c, instr)
		c.instrs++

		if err := c.sb.Charge(c.ID, c.Quota, 1, 0, 0); err != nil {
			c.setState(types.ContextFailed)
			c.Publish(observer.InstructionTrapped, err.Error())
			return outcome(types.ContextFailed, err, "")
		}

		if err != nil {
			c.setState(types.ContextFailed)
			c.Publish(observer.InstructionTrapped, err.Error())
			return outcome(types.ContextFailed, err, "")
		}

		switch sig {
		case SignalContinue:
			c.pc++
		case SignalJump:
			c.pc = c.jumpNext
		case SignalReturn:
			c.setState(types.ContextCompleted)
			c.Publish(observer.ContextCompleted, "")
			return outcome(types.ContextCompleted, nil, "")
		case SignalSuspend:
			c.pc++
			c.setState(types.ContextSuspended)
			c.Publish(observer.ContextSuspended, "")
			return outcome(types.ContextSuspended, nil, string(c.ID))
		case SignalWait:
			c.pc++
			c.setState(types.ContextWaiting)
			return outcome(types.ContextWaiting, nil, string(c.ID))
		}
	}
}

// Cancel marks a Running or Suspended context Cancelled; the next
// instruction boundary in Run observes the state and returns.
func (c *Context) Cancel() {
	c.setState(types.ContextCancelled)
}

// Close releases the context's sandbox quota-tracking state. Callers
// must call Close exactly once, after Run reaches a terminal state.
func (c *Context) Close() {
	c.sb.Forget(c.ID)
}

// Elapsed is a convenience for callers that want to report how long a
// context has been alive without reaching into the sandbox.
func Elapsed(start time.Time) time.Duration {
	return time.Since(start)
}
