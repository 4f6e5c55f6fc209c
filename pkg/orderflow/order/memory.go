package order

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-memory order store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	closed bool
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.orders[o.ID]; ok {
		return ErrExists
	}

	o.Version = 1
	m.orders[o.ID] = o.Clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	stored, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != o.Version {
		return ErrVersionConflict
	}

	o.Version++
	m.orders[o.ID] = o.Clone()
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, stages ...Stage) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var out []*Order
	for _, o := range m.orders {
		if len(stages) == 0 || slices.Contains(stages, o.Stage) {
			out = append(out, o.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.orders = nil
	return nil
}

// Len returns the number of stored orders.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}
