// Package engine assembles C4 (bytecode engine), C5 (WASM transpiler),
// and C6 (database bridge) into the concrete hostapi.Host spec.md §6
// describes. It is the only package in this module that imports all
// three component families: callers drive a dot's whole lifecycle —
// deploy, execute, resume, inspect — through the Engine it returns,
// never by reaching into pkg/vm or pkg/bridge directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dotlanth/dotvm/pkg/bridge"
	"github.com/dotlanth/dotvm/pkg/config"
	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/hostapi"
	"github.com/dotlanth/dotvm/pkg/log"
	"github.com/dotlanth/dotvm/pkg/memory"
	"github.com/dotlanth/dotvm/pkg/metrics"
	"github.com/dotlanth/dotvm/pkg/sched"
	"github.com/dotlanth/dotvm/pkg/state"
	"github.com/dotlanth/dotvm/pkg/storage"
	"github.com/dotlanth/dotvm/pkg/transpile/pipeline"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/arch"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
	"github.com/dotlanth/dotvm/pkg/vm/isa"
	"github.com/dotlanth/dotvm/pkg/vm/module"
	"github.com/dotlanth/dotvm/pkg/vm/observer"
	"github.com/dotlanth/dotvm/pkg/vm/sandbox"
)

// architectures lists every architecture the engine can execute, in
// ascending word-width order, and is returned as-is by
// ListArchitectures.
var architectures = []types.Architecture{types.Arch64, types.Arch128, types.Arch256, types.Arch512}

// defaultQuota is the sandbox policy's fallback resource quota,
// applied to a deployed dot that did not request one of its own. It
// is deliberately generous: a dot that needs tighter bounds sets
// DeployRequest.Quota explicitly.
var defaultQuota = types.ResourceQuota{
	MaxInstructions:  10_000_000,
	MaxWallTime:      30 * time.Second,
	MaxMemoryBytes:   64 * 1024 * 1024,
	MaxStorageWrites: 10_000,
}

// schedulerWorkers is the fixed worker-pool size pkg/sched runs every
// execution context through. Sized for a single process's expected
// concurrency, not host CPU count: contexts spend most of their time
// blocked on sandboxed I/O, not burning CPU.
const schedulerWorkers = 8

// deployment is what the engine keeps per deployed dot: its loaded
// module and the capability/quota/priority grant its deploy request
// carried, reapplied to every context Execute admits for it.
type deployment struct {
	module   *module.Module
	caps     []types.Capability
	quota    types.ResourceQuota
	priority types.Priority
}

// Engine is the concrete hostapi.Host: one Engine typically serves a
// whole process, backed by one storage.Engine and one sandbox.
type Engine struct {
	cfg     config.Config
	storage *storage.Engine
	trie    *state.Trie
	bridge  *bridge.Bridge
	mem     memory.Manager
	sb      *sandbox.Sandbox
	bus     *observer.Bus
	table   *exec.HandlerTable
	syscall *isa.SyscallTable
	sched   *sched.Scheduler

	mu      sync.Mutex
	dots    map[types.DotID]*deployment
	waiting map[types.ContextID]*waitingContext
}

// waitingContext is a parked execution context together with the
// scheduling priority it should resume under, which the context
// itself has no field for.
type waitingContext struct {
	c        *exec.Context
	priority types.Priority
}

// Open wires every component per cfg: opens (or creates) the storage
// engine at cfg.DataDir, builds the Merkle-Patricia trie on top of it,
// the database bridge on top of that, a flat memory manager, a
// sandbox, and the full opcode handler table. The returned Engine is
// ready to Deploy.
func Open(cfg config.Config) (*Engine, error) {
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSONOutput})

	storeEngine, err := storage.Open(storage.Config{
		Dir:              cfg.DataDir,
		BufferPoolFrames: cfg.BufferPoolFrames,
		EvictionPolicy:   cfg.EvictionPolicy,
	})
	if err != nil {
		return nil, dverr.Wrap(dverr.IoError, "engine.Open", err)
	}

	nodeStore := state.NewStore(state.NewEngineBackend(storeEngine))
	trie := state.New(nodeStore)
	br := bridge.New(trie)

	bus := observer.NewBus()
	bus.Start()

	sb, err := sandbox.New(sandbox.Policy{
		DefaultQuota: defaultQuota,
	}, cfg.DataDir, bus)
	if err != nil {
		bus.Stop()
		_ = storeEngine.Close()
		return nil, dverr.Wrap(dverr.PolicyViolation, "engine.Open", err)
	}

	cryptoUnit, err := isa.NewCryptoUnitFromSeed([]byte(cfg.DataDir))
	if err != nil {
		bus.Stop()
		_ = storeEngine.Close()
		return nil, dverr.Wrap(dverr.PolicyViolation, "engine.Open", err)
	}
	syscalls := isa.NewSyscallTable()
	table := isa.NewHandlerTable(isa.OverflowWrap, cryptoUnit, syscalls)

	schedulerBudget := int64(defaultQuota.MaxInstructions) * schedulerWorkers
	sc := sched.New(schedulerWorkers, schedulerBudget)
	sc.Start()

	e := &Engine{
		cfg:     cfg,
		storage: storeEngine,
		trie:    trie,
		bridge:  br,
		mem:     memory.New(1 << 20),
		sb:      sb,
		bus:     bus,
		table:   table,
		syscall: syscalls,
		sched:   sc,
		dots:    make(map[types.DotID]*deployment),
		waiting: make(map[types.ContextID]*waitingContext),
	}
	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("vm", true, "")
	metrics.RegisterComponent("bridge", true, "")
	metrics.RegisterComponent("sched", true, "")
	return e, nil
}

// Close flushes and releases every owned resource: the storage
// engine, its WAL, and the observer bus. Callers must stop issuing
// Deploy/Execute calls before calling Close.
func (e *Engine) Close() error {
	e.sched.Stop()
	e.bus.Stop()
	if err := e.sb.Close(); err != nil {
		return fmt.Errorf("engine: close sandbox: %w", err)
	}
	if err := e.storage.Close(); err != nil {
		return fmt.Errorf("engine: close storage: %w", err)
	}
	return nil
}

// buildModule resolves req into a loadable module.Module, transpiling
// from WASM when req.Wasm is set and loading prebuilt bytecode
// otherwise. Exactly one of the two must be set.
func buildModule(req hostapi.DeployRequest) (*module.Module, error) {
	switch {
	case len(req.Wasm) > 0 && len(req.Bytecode) > 0:
		return nil, dverr.Wrap(dverr.InvalidWasm, "engine.buildModule", errors.New("request carries both Wasm and Bytecode"))
	case len(req.Wasm) > 0:
		eng := pipeline.New(pipeline.Config{Architecture: req.Architecture, Level: pipeline.LevelRelease})
		m, err := eng.Run(req.Wasm)
		if err != nil {
			return nil, fmt.Errorf("engine: transpile: %w", err)
		}
		return m, nil
	case len(req.Bytecode) > 0:
		m, err := module.Load(req.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("engine: load bytecode: %w", err)
		}
		return m, nil
	default:
		return nil, dverr.Wrap(dverr.InvalidWasm, "engine.buildModule", errors.New("request carries neither Wasm nor Bytecode"))
	}
}

// Deploy implements hostapi.Host.
func (e *Engine) Deploy(ctx context.Context, req hostapi.DeployRequest) error {
	m, err := buildModule(req)
	if err != nil {
		return err
	}
	if m.Architecture != req.Architecture {
		if _, err := arch.CompatibilityMode(m.Architecture, req.Architecture); err != nil {
			return dverr.Wrap(dverr.ArchitectureIncompatible, "engine.Deploy", err)
		}
	}

	quota := req.Quota
	if quota == (types.ResourceQuota{}) {
		quota = defaultQuota
	}

	e.mu.Lock()
	e.dots[req.DotID] = &deployment{module: m, caps: req.Capabilities, quota: quota, priority: req.Priority}
	e.mu.Unlock()

	log.WithDotID(string(req.DotID)).Info("dot deployed")
	return nil
}

// Execute implements hostapi.Host. Every run, fresh or resumed, is
// admitted through the scheduler rather than run inline: Execute
// blocks until the scheduler has run it to a terminal or waiting
// state, but concurrent Execute calls share the scheduler's priority
// queues and resource budget instead of each spawning unmanaged work.
func (e *Engine) Execute(ctx context.Context, req hostapi.ExecuteRequest) (exec.Outcome, error) {
	timer := metrics.NewTimer()

	if req.ResumeToken != "" {
		e.mu.Lock()
		w, ok := e.waiting[types.ContextID(req.ResumeToken)]
		if ok {
			delete(e.waiting, types.ContextID(req.ResumeToken))
		}
		e.mu.Unlock()
		if !ok {
			return exec.Outcome{}, dverr.Wrap(dverr.InvalidOpcode, "engine.Execute", errors.New("unknown resume token"))
		}

		out, err := e.run(ctx, w.c, w.priority)
		if err != nil {
			return exec.Outcome{}, err
		}
		e.record(string(w.c.Architecture), out, timer)
		return e.settle(w.c, w.priority, out), nil
	}

	e.mu.Lock()
	d, ok := e.dots[req.DotID]
	e.mu.Unlock()
	if !ok {
		return exec.Outcome{}, dverr.Wrap(dverr.UnresolvedImport, "engine.Execute", errors.New("dot not deployed"))
	}

	id := types.ContextID(uuid.NewString())
	c, err := exec.New(id, req.DotID, d.module, req.FuncIndex, d.quota, d.caps, req.Inputs, e.sb, e.bus)
	if err != nil {
		return exec.Outcome{}, fmt.Errorf("engine: new context: %w", err)
	}
	c.WithMemory(memory.NewExecAdapter(e.mem)).WithBridge(bridge.NewExecAdapter(e.bridge))

	out, err := e.run(ctx, c, d.priority)
	if err != nil {
		return exec.Outcome{}, err
	}
	e.record(string(d.module.Architecture), out, timer)
	return e.settle(c, d.priority, out), nil
}

// run admits c into the scheduler under priority and blocks until it
// reports c's outcome.
func (e *Engine) run(ctx context.Context, c *exec.Context, priority types.Priority) (exec.Outcome, error) {
	r := newContextRunnable(c, e.table, priority)
	if err := e.sched.Submit(ctx, r); err != nil {
		return exec.Outcome{}, fmt.Errorf("engine: schedule: %w", err)
	}
	select {
	case out := <-r.done:
		return out, nil
	case <-ctx.Done():
		return exec.Outcome{}, ctx.Err()
	}
}

// record reports one Run's outcome to the bytecode-engine metric
// family.
func (e *Engine) record(architecture string, out exec.Outcome, timer *metrics.Timer) {
	metrics.InstructionsExecuted.WithLabelValues(architecture).Add(float64(out.Instructions))
	metrics.ExecutionContextsTotal.WithLabelValues(string(out.State)).Inc()
	timer.ObserveDurationVec(metrics.ExecutionDuration, architecture)
}

// settle parks c for a later resume when it suspended or is waiting
// on a host syscall, and releases its sandbox bookkeeping otherwise.
func (e *Engine) settle(c *exec.Context, priority types.Priority, out exec.Outcome) exec.Outcome {
	switch out.State {
	case types.ContextSuspended, types.ContextWaiting:
		e.mu.Lock()
		e.waiting[c.ID] = &waitingContext{c: c, priority: priority}
		e.mu.Unlock()
	default:
		c.Close()
	}
	return out
}

// GetState implements hostapi.Host.
func (e *Engine) GetState(dotID types.DotID) (hostapi.DotState, error) {
	e.mu.Lock()
	d, ok := e.dots[dotID]
	e.mu.Unlock()
	if !ok {
		return hostapi.DotState{}, dverr.Wrap(dverr.UnresolvedImport, "engine.GetState", errors.New("dot not deployed"))
	}

	exports := make([]string, 0, len(d.module.Exports))
	for _, exp := range d.module.Exports {
		exports = append(exports, exp.Name)
	}
	return hostapi.DotState{DotID: dotID, Architecture: d.module.Architecture, Exports: exports}, nil
}

// Validate implements hostapi.Host: it runs the same load/transpile
// path Deploy does but never registers the result.
func (e *Engine) Validate(req hostapi.DeployRequest) error {
	_, err := buildModule(req)
	return err
}

// ListArchitectures implements hostapi.Host.
func (e *Engine) ListArchitectures() []types.Architecture {
	return architectures
}
