package credential

import (
	"context"
	"sync"
)

// Persistence stores OAuth credentials durably, one per provider.
type Persistence interface {
	// Load returns the stored credential for providerID, or ErrNotFound.
	Load(ctx context.Context, providerID string) (Credential, error)

	// Save replaces the stored credential for providerID atomically.
	Save(ctx context.Context, providerID string, cred Credential) error
}

// Memory is an in-process Persistence. Safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	creds map[string]Credential
	saves int
}

// NewMemory creates an empty in-memory persistence.
func NewMemory() *Memory {
	return &Memory{creds: make(map[string]Credential)}
}

// Load implements Persistence.
func (m *Memory) Load(ctx context.Context, providerID string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[providerID]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

// Save implements Persistence.
func (m *Memory) Save(ctx context.Context, providerID string, cred Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[providerID] = cred
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
