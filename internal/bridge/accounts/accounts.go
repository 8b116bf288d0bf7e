// Package accounts looks up the account configuration the emergency
// policy needs: account documents and emergency-enabled number sets.
// The lookup service is an external collaborator; this package holds the
// interface, a redis-backed client, a read-through cache, and an
// in-memory double for tests.
package accounts

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when the account has no stored document.
var ErrNotFound = errors.New("account not found")

// Document is the slice of an account's configuration the bridge daemon
// reads. It is best-effort enrichment: callers must cope with a missing
// document.
type Document struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Realm      string `json:"realm,omitempty"`
	ResellerID string `json:"reseller_id,omitempty"`

	// AnonymousCIDNumber is the number shown for anonymized calls; it is
	// the last-resort emergency fallback.
	AnonymousCIDNumber string `json:"anonymous_cid_number,omitempty"`
	// DefaultEmergencyNumber overrides the system-wide emergency
	// fallback for this account.
	DefaultEmergencyNumber string `json:"default_emergency_number,omitempty"`
}

// Provider answers account lookups. Implementations may block the
// calling goroutine but must be safe for concurrent use.
type Provider interface {
	// Account fetches the account document. Returns ErrNotFound when the
	// account has none.
	Account(ctx context.Context, accountID string) (*Document, error)
	// EmergencyNumbers returns the set of numbers enabled for emergency
	// dispatch on the account. An empty set is a valid answer.
	EmergencyNumbers(ctx context.Context, accountID string) (map[string]struct{}, error)
}

// Memory is a Provider backed by maps, for tests and development.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	numbers map[string]map[string]struct{}
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]*Document),
		numbers: make(map[string]map[string]struct{}),
	}
}

// PutAccount stores a document.
func (m *Memory) PutAccount(doc *Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
}

// PutEmergencyNumbers replaces the enabled set for an account.
func (m *Memory) PutEmergencyNumbers(accountID string, numbers ...string) {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numbers[accountID] = set
}

func (m *Memory) Account(ctx context.Context, accountID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (m *Memory) EmergencyNumbers(ctx context.Context, accountID string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{}, len(m.numbers[accountID]))
	for n := range m.numbers[accountID] {
		set[n] = struct{}{}
	}
	return set, nil
}
