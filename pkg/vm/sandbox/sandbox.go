// Package sandbox enforces the per-context capability, quota, and
// isolation policy the bytecode engine applies before and during every
// opcode that touches memory, storage, crypto, or a host syscall.
//
// A denied or exhausted access is never silently downgraded into a
// no-op: Check returns an error the dispatch loop turns into a trap,
// and the decision — allowed or denied — is always written to the
// audit log.
package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/metrics"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/dotlanth/dotvm/pkg/vm/observer"
)

// Policy is the static configuration a Sandbox enforces: the
// capability set granted to new contexts and the default resource
// quota applied when a caller does not supply one explicitly.
type Policy struct {
	DefaultCapabilities []types.Capability
	DefaultQuota        types.ResourceQuota
}

// Sandbox is the per-engine enforcement point: one Sandbox typically
// serves every execution context the engine runs, namespacing state by
// ContextID.
type Sandbox struct {
	policy Policy
	caps   *CapabilityManager
	audit  *AuditLog
	bus    *observer.Bus

	mu      sync.Mutex
	usage   map[types.ContextID]*usage
}

type usage struct {
	instructions uint64
	storageWrites uint64
	startedAt    time.Time
	memoryBytes  uint64
}

// New creates a Sandbox backed by an audit log rooted at dataDir.
func New(policy Policy, dataDir string, bus *observer.Bus) (*Sandbox, error) {
	audit, err := OpenAuditLog(dataDir)
	if err != nil {
		return nil, err
	}

	return &Sandbox{
		policy: policy,
		caps:   NewCapabilityManager(),
		audit:  audit,
		bus:    bus,
		usage:  make(map[types.ContextID]*usage),
	}, nil
}

// Close releases the audit log's file handle.
func (s *Sandbox) Close() error {
	return s.audit.Close()
}

// Admit registers contextID for quota tracking and issues it a
// capability token scoped to the sandbox's default policy, or to
// grantedCaps/quota when provided (e.g. a ParaDot child with a
// narrower grant than its parent).
func (s *Sandbox) Admit(contextID types.ContextID, grantedCaps []types.Capability, quota types.ResourceQuota) (*CapabilityToken, error) {
	if len(grantedCaps) == 0 {
		grantedCaps = s.policy.DefaultCapabilities
	}
	if quota == (types.ResourceQuota{}) {
		quota = s.policy.DefaultQuota
	}

	tok, err := s.caps.Issue(grantedCaps, quota.MaxWallTime)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.usage[contextID] = &usage{startedAt: time.Now()}
	s.mu.Unlock()

	s.bus.Publish(&observer.Event{Kind: observer.ContextCreated, ContextID: contextID})
	return tok, nil
}

// Forget drops contextID's quota tracking state once it terminates.
func (s *Sandbox) Forget(contextID types.ContextID) {
	s.mu.Lock()
	delete(s.usage, contextID)
	s.mu.Unlock()
}

// Check verifies token grants cap for contextID, records the decision
// to the audit log, and returns an error if the access is denied.
func (s *Sandbox) Check(contextID types.ContextID, token string, cap types.Capability) error {
	allowed, err := s.caps.Check(token, cap)
	reason := ""
	if err != nil {
		reason = err.Error()
	} else if !allowed {
		reason = "capability not granted"
	}

	_ = s.audit.Record(contextID, cap, allowed, reason)

	if !allowed {
		metrics.SandboxDenialsTotal.WithLabelValues(string(cap), reason).Inc()
		s.bus.Publish(&observer.Event{
			Kind:      observer.SandboxDenied,
			ContextID: contextID,
			Message:   reason,
		})
		if err != nil {
			return dverr.Wrap(dverr.PermissionDenied, "sandbox.Check", fmt.Errorf("capability %s: %w", cap, err))
		}
		return dverr.Wrap(dverr.PermissionDenied, "sandbox.Check", fmt.Errorf("capability %s denied for context %s", cap, contextID))
	}

	return nil
}

// Charge adds the given consumption to contextID's running usage and
// returns an error once any nonzero limit in quota (the caller passes
// the execution context's declared ResourceQuota on every call) is
// exceeded; a zero limit is not enforced.
func (s *Sandbox) Charge(contextID types.ContextID, quota types.ResourceQuota, instructions, storageWrites, memoryBytes uint64) error {
	s.mu.Lock()
	u, ok := s.usage[contextID]
	if !ok {
		u = &usage{startedAt: time.Now()}
		s.usage[contextID] = u
	}
	u.instructions += instructions
	u.storageWrites += storageWrites
	u.memoryBytes += memoryBytes
	elapsed := time.Since(u.startedAt)
	current := *u
	s.mu.Unlock()

	switch {
	case quota.MaxInstructions != 0 && current.instructions > quota.MaxInstructions:
		return s.quotaExceeded(contextID, "instructions")
	case quota.MaxStorageWrites != 0 && current.storageWrites > quota.MaxStorageWrites:
		return s.quotaExceeded(contextID, "storage_writes")
	case quota.MaxMemoryBytes != 0 && current.memoryBytes > quota.MaxMemoryBytes:
		return s.quotaExceeded(contextID, "memory")
	case quota.MaxWallTime != 0 && elapsed > quota.MaxWallTime:
		return s.quotaExceeded(contextID, "wall_time")
	}

	return nil
}

func (s *Sandbox) quotaExceeded(contextID types.ContextID, kind string) error {
	metrics.SandboxQuotaExceeded.WithLabelValues(kind).Inc()
	s.bus.Publish(&observer.Event{
		Kind:      observer.SandboxQuotaHit,
		ContextID: contextID,
		Message:   kind,
	})
	return dverr.Wrap(dverr.ResourceExhausted, "sandbox.Charge", fmt.Errorf("quota exceeded: %s", kind))
}
