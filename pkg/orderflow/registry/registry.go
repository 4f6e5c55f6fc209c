package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicate is returned by Add when the key is already registered.
var ErrDuplicate = errors.New("registry: duplicate key")

// Registry maps keys to values and remembers registration order.
type Registry[K comparable, V any] struct {
	mu    sync.RWMutex
	index map[K]int
	keys  []K
	vals  []V
}

// New creates a new empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		index: make(map[K]int),
	}
}

// Add registers a value under a new key.
func (r *Registry[K, V]) Add(key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[key]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicate, key)
	}
	r.index[key] = len(r.keys)
	r.keys = append(r.keys, key)
	r.vals = append(r.vals, value)
	return nil
}

// MustAdd is like Add but panics on a duplicate key.
func (r *Registry[K, V]) MustAdd(key K, value V) {
	if err := r.Add(key, value); err != nil {
		panic(err)
	}
}

// Put adds or replaces a value. A replaced value keeps its position.
func (r *Registry[K, V]) Put(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[key]; ok {
		r.vals[i] = value
		return
	}
	r.index[key] = len(r.keys)
	r.keys = append(r.keys, key)
	r.vals = append(r.vals, value)
}

// Get returns the value for a key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return r.vals[i], true
}

// Has returns true if the key exists in the registry.
func (r *Registry[K, V]) Has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[key]
	return ok
}

// Remove deletes a key and reports whether it was present.
func (r *Registry[K, V]) Remove(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[key]
	if !ok {
		return false
	}
	delete(r.index, key)
	r.keys = append(r.keys[:i], r.keys[i+1:]...)
	r.vals = append(r.vals[:i], r.vals[i+1:]...)
	for j := i; j < len(r.keys); j++ {
		r.index[r.keys[j]] = j
	}
	return true
}

// Keys returns the keys in registration order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]K, len(r.keys))
	copy(out, r.keys)
	return out
}

// Values returns a snapshot of the values in registration order.
func (r *Registry[K, V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, len(r.vals))
	copy(out, r.vals)
	return out
}

// Len returns the number of entries in the registry.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Range calls fn for each entry in registration order until fn returns
// false. It iterates over a snapshot, so fn may modify the registry.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	r.mu.RLock()
	keys := make([]K, len(r.keys))
	copy(keys, r.keys)
	vals := make([]V, len(r.vals))
	copy(vals, r.vals)
	r.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], vals[i]) {
			return
		}
	}
}
