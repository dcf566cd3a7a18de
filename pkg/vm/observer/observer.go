// Package observer is the bytecode engine's execution event bus.
//
// Dispatch handlers, the sandbox, and the scheduler all publish
// Event values here instead of reaching for a package-level logger or
// metrics singleton, so a caller that wants to trace one context's
// instruction stream can subscribe without affecting anyone else's
// view of the bus.
package observer

import (
	"sync"
	"time"

	"github.com/dotlanth/dotvm/pkg/types"
)

// Kind is the type of execution event.
type Kind string

const (
	ContextCreated     Kind = "context.created"
	ContextSuspended   Kind = "context.suspended"
	ContextResumed     Kind = "context.resumed"
	ContextCompleted   Kind = "context.completed"
	ContextFailed      Kind = "context.failed"
	ContextCancelled   Kind = "context.cancelled"
	SandboxDenied      Kind = "sandbox.denied"
	SandboxQuotaHit    Kind = "sandbox.quota_exceeded"
	InstructionTrapped Kind = "instruction.trapped"
)

// Event describes one occurrence on the execution bus.
type Event struct {
	ID        string
	Kind      Kind
	ContextID types.ContextID
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Bus distributes events to every current subscriber. Slow subscribers
// drop events rather than block publication.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBus creates a Bus with publication-side buffering.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the bus's distribution loop.
func (b *Bus) Start() {
	go b.run()
}

// Stop ends the bus's distribution loop. Subscriber channels are not
// closed; they receive no further events.
func (b *Bus) Stop() {
	close(b.stopCh)
}

// Subscribe returns a new channel that receives every future event.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues event for distribution. Timestamp is filled in if
// zero.
func (b *Bus) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the bus
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
