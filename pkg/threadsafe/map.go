// Package threadsafe holds containers safe for use by concurrent goroutines.
package threadsafe

import (
	"maps"
	"sync"
)

// Map is a map guarded by a RWMutex.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

// NewMap returns an empty map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		m: make(map[K]V),
	}
}

func (m *Map[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.m[key] = value
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.m[key]
	return val, ok
}

// Update replaces the value at key with fn's result, atomically.
func (m *Map[K, V]) Update(key K, fn func(old V, ok bool) V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.m[key]
	m.m[key] = fn(old, ok)
}

func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.m)
}

// Snapshot returns a copy of the map's contents.
func (m *Map[K, V]) Snapshot() map[K]V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.m)
}
