package colors

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byOwner map[string]map[string]Color
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOwner: make(map[string]map[string]Color)}
}

func (m *MemoryStore) GetColor(_ context.Context, owner, location string) (Color, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byOwner[owner][location]
	return c, ok, nil
}

func (m *MemoryStore) PutColor(_ context.Context, owner, location string, c Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.byOwner[owner]
	if !ok {
		entries = make(map[string]Color)
		m.byOwner[owner] = entries
	}
	entries[location] = c
	return nil
}

func (m *MemoryStore) DeleteColor(_ context.Context, owner, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byOwner[owner], location)
	return nil
}

func (m *MemoryStore) ListColors(_ context.Context, owner string) (map[string]Color, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.byOwner[owner]), nil
}
