package attestation

import (
	"sort"
	"sync"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
)

// Manager is a concurrency-safe store of attestations keyed by tool name.
type Manager struct {
	svc *Service

	mu           sync.RWMutex
	attestations map[string]capability.Attestation
}

// NewManager creates an empty Manager that checks attestations with svc.
func NewManager(svc *Service) *Manager {
	return &Manager{
		svc:          svc,
		attestations: make(map[string]capability.Attestation),
	}
}

// Add stores a under toolName, replacing any previous attestation.
func (m *Manager) Add(toolName string, a capability.Attestation) {
	m.mu.Lock()
	m.attestations[toolName] = a
	m.mu.Unlock()
}

// Get returns the attestation stored for toolName.
func (m *Manager) Get(toolName string) (capability.Attestation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attestations[toolName]
	return a, ok
}

// VerifyAll reports whether every stored attestation is inside its validity
// window, uses the configured algorithm, carries key material and has a
// signature over its own hash that the signer accepts. An empty store
// verifies.
func (m *Manager) VerifyAll() bool {
	now := m.svc.clock.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.attestations {
		err := m.svc.checkEnvelope(&a, now)
		if err == nil && !m.svc.verifySignature(&a) {
			err = errBadSignature
		}
		if !m.svc.record(name, err) {
			return false
		}
	}
	return true
}

// Expired returns the tool names whose attestation is older than the
// service's attestation TTL, sorted.
func (m *Manager) Expired() []string {
	now := m.svc.clock.Now().Unix()
	maxAge := int64(m.svc.ttl.Seconds())

	m.mu.RLock()
	var expired []string
	for name, a := range m.attestations {
		if now-a.Timestamp > maxAge {
			expired = append(expired, name)
		}
	}
	m.mu.RUnlock()

	sort.Strings(expired)
	return expired
}

// Remove deletes and returns the attestation stored for toolName.
func (m *Manager) Remove(toolName string) (capability.Attestation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attestations[toolName]
	if ok {
		delete(m.attestations, toolName)
	}
	return a, ok
}

// Clear removes every attestation.
func (m *Manager) Clear() {
	m.mu.Lock()
	clear(m.attestations)
	m.mu.Unlock()
}

// Count returns the number of stored attestations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attestations)
}
