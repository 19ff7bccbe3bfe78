package budget

import (
	"context"
	"sync"
)

// MemoryStore keeps daily totals in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	totals map[string]float64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{totals: make(map[string]float64)}
}

// Add implements Store.
func (m *MemoryStore) Add(_ context.Context, day string, dollars float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[day] += dollars
	return m.totals[day], nil
}

// Total implements Store.
func (m *MemoryStore) Total(_ context.Context, day string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[day], nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(_ context.Context, keep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for day := range m.totals {
		if day != keep {
			delete(m.totals, day)
		}
	}
	return nil
}
