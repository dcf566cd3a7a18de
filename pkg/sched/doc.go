/*
Package sched implements the bytecode engine's work-stealing scheduler.

The scheduler admits execution contexts (one per Execute call, plus any
ParaDot children spawned from them) into one of four priority queues
and runs them on a fixed pool of workers. An idle worker first takes
from its own local deque, then from the shared priority queues
(highest priority first), and only when both are empty steals from
the back of another worker's local deque.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                     Submit(ctx, req)                      │
	└───────────────────────┬────────────────────────────────────┘
	                        │ resource-aware admission
	                        ▼
	┌──────────────────────────────────────────────────────────┐
	│   Critical │ High │ Medium │ Low   (per-priority queues)  │
	└───────────────────────┬────────────────────────────────────┘
	                        │
	      ┌─────────────────┼─────────────────┐
	      ▼                 ▼                 ▼
	  worker 0          worker 1          worker N
	  local deque       local deque       local deque
	      │                 │                 │
	      └──── steal from neighbor when local deque empties ────┘

Admission is gated by a weighted semaphore sized to the host's
instruction budget: Submit blocks until the context's
ResourceQuota.MaxInstructions (at least 1) fits inside the remaining
budget, and the worker releases that weight when the context's Run
returns, whatever its outcome. Memory footprint is not part of the
weight.

Workers call Run with context.Background(): the context given to
Submit bounds admission only and does not cancel a context once a
worker has taken it. A Runnable checks the context it is given between
instructions, never mid-instruction, matching the bytecode engine's
cooperative-suspension contract.
*/
package sched
