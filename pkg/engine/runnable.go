package engine

import (
	"context"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/exec"
)

// contextRunnable adapts *exec.Context to sched.Runnable so Execute
// can admit a context through the scheduler's priority queues and
// resource budget instead of running it inline.
type contextRunnable struct {
	c        *exec.Context
	table    *exec.HandlerTable
	priority types.Priority
	done     chan exec.Outcome
}

func newContextRunnable(c *exec.Context, table *exec.HandlerTable, priority types.Priority) *contextRunnable {
	return &contextRunnable{c: c, table: table, priority: priority, done: make(chan exec.Outcome, 1)}
}

func (r *contextRunnable) ID() types.ContextID       { return r.c.ID }
func (r *contextRunnable) Priority() types.Priority   { return r.priority }
func (r *contextRunnable) Quota() types.ResourceQuota { return r.c.Quota }

// Run executes the wrapped context and reports its outcome on done.
// The returned error surfaces a trap to the scheduler's own logging;
// Engine.run reads the outcome itself rather than this return value.
func (r *contextRunnable) Run(ctx context.Context) error {
	out := r.c.Run(ctx, r.table)
	r.done <- out
	return out.Err
}
