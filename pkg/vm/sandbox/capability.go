package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dotlanth/dotvm/pkg/dverr"
	"github.com/dotlanth/dotvm/pkg/types"
)

// CapabilityToken grants a bearer a fixed set of capabilities until
// ExpiresAt. Tokens are opaque to the bytecode engine: the sandbox is
// the only component that mints, checks, and revokes them.
type CapabilityToken struct {
	Token        string
	Capabilities map[types.Capability]bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// CapabilityManager issues and validates capability tokens for
// execution contexts and their ParaDot children.
type CapabilityManager struct {
	tokens map[string]*CapabilityToken
	mu     sync.RWMutex
}

// NewCapabilityManager creates an empty manager.
func NewCapabilityManager() *CapabilityManager {
	return &CapabilityManager{
		tokens: make(map[string]*CapabilityToken),
	}
}

// Issue mints a new token granting caps for duration d.
func (m *CapabilityManager) Issue(caps []types.Capability, d time.Duration) (*CapabilityToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, dverr.Wrap(dverr.ResourceExhausted, "capability.Issue", fmt.Errorf("generate capability token: %w", err))
	}

	grant := make(map[types.Capability]bool, len(caps))
	for _, c := range caps {
		grant[c] = true
	}

	tok := &CapabilityToken{
		Token:        hex.EncodeToString(raw),
		Capabilities: grant,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(d),
	}

	m.mu.Lock()
	m.tokens[tok.Token] = tok
	m.mu.Unlock()

	return tok, nil
}

// Check reports whether token grants cap and has not expired.
func (m *CapabilityManager) Check(token string, cap types.Capability) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.tokens[token]
	if !ok {
		return false, dverr.New(dverr.PermissionDenied, "capability.Check: invalid token")
	}
	if time.Now().After(tok.ExpiresAt) {
		return false, dverr.New(dverr.PermissionDenied, "capability.Check: token expired")
	}
	return tok.Capabilities[cap], nil
}

// Revoke invalidates token immediately.
func (m *CapabilityManager) Revoke(token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
}

// CleanupExpired removes every token past its ExpiresAt. Intended to
// be called periodically by the engine's housekeeping loop.
func (m *CapabilityManager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, tok := range m.tokens {
		if now.After(tok.ExpiresAt) {
			delete(m.tokens, token)
		}
	}
}
