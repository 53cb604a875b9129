package user

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests and as a fallback when no
// storage driver is configured. Profiles are deep-copied on the way in and out
// so callers never share mutable state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]*Profile{}}
}

func (m *MemoryStore) FindAll(ctx context.Context) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Profile, 0, len(m.users))
	for _, p := range m.users {
		out = append(out, p.Clone())
	}
	// Stable order keeps matching runs and tests deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (m *MemoryStore) FindByRecipientID(ctx context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) Upsert(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[p.RecipientID] = p.Clone()
	return nil
}

func (m *MemoryStore) UpsertCooldowns(ctx context.Context, id string, ledger map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	cp := make(map[string]int64, len(ledger))
	for k, v := range ledger {
		cp[k] = v
	}
	p.Cooldowns = cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
