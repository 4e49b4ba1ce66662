// Package live provides a map that signals observers after every mutation.
package live

import (
	"errors"
	"fmt"
	"sync"
)

// ErrKeyExists is returned by Add when the key is already present.
var ErrKeyExists = errors.New("live: key already exists")

// ReadOnly is the read side of a Map.
type ReadOnly[K comparable, V any] interface {
	Get(key K) (V, bool)
	Contains(key K) bool
	Len() int
	Keys() []K
	Values() []V
	Range(fn func(key K, value V) bool)
	Snapshot() map[K]V
	OnItemChanged(fn func(key K)) (unsubscribe func())
	OnChanged(fn func()) (unsubscribe func())
}

// Map is a concurrency-safe map with change notification.
//
// After a mutation completes, every affected key is signaled to item
// observers, then change observers are signaled once. Signals run
// synchronously on the mutating goroutine with no lock held.
type Map[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V

	itemObservers Observers[func(K)]
	anyObservers  Observers[func()]
}

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{data: make(map[K]V)}
}

// OnItemChanged subscribes fn to per-key changes.
func (m *Map[K, V]) OnItemChanged(fn func(key K)) (unsubscribe func()) {
	return m.itemObservers.Add(fn)
}

// OnChanged subscribes fn to the aggregate change signal.
func (m *Map[K, V]) OnChanged(fn func()) (unsubscribe func()) {
	return m.anyObservers.Add(fn)
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Set inserts or overwrites key.
func (m *Map[K, V]) Set(key K, value V) {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()

	m.signal(key)
}

// Update applies fn to the current value of key under the write lock and
// stores the result.
func (m *Map[K, V]) Update(key K, fn func(old V, ok bool) V) {
	m.mu.Lock()
	old, ok := m.data[key]
	m.data[key] = fn(old, ok)
	m.mu.Unlock()

	m.signal(key)
}

// Add inserts key, failing without any signal if it already exists.
func (m *Map[K, V]) Add(key K, value V) error {
	m.mu.Lock()
	if _, ok := m.data[key]; ok {
		m.mu.Unlock()
		return fmt.Errorf("add %v: %w", key, ErrKeyExists)
	}
	m.data[key] = value
	m.mu.Unlock()

	m.signal(key)
	return nil
}

// Remove deletes key and reports whether it was present. Removing an
// absent key raises no signal.
func (m *Map[K, V]) Remove(key K) bool {
	m.mu.Lock()
	_, ok := m.data[key]
	if ok {
		delete(m.data, key)
	}
	m.mu.Unlock()

	if ok {
		m.signal(key)
	}
	return ok
}

// RemoveIf deletes key only if pred accepts its current value.
func (m *Map[K, V]) RemoveIf(key K, pred func(V) bool) bool {
	m.mu.Lock()
	v, ok := m.data[key]
	ok = ok && pred(v)
	if ok {
		delete(m.data, key)
	}
	m.mu.Unlock()

	if ok {
		m.signal(key)
	}
	return ok
}

// Clear removes all keys, signaling each one and then the aggregate once.
// The aggregate fires even when the map was already empty.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	keys := make([]K, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.data = make(map[K]V)
	m.mu.Unlock()

	m.signal(keys...)
}

func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

func (m *Map[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := make([]V, 0, len(m.data))
	for _, v := range m.data {
		values = append(values, v)
	}
	return values
}

// Snapshot returns a copy of the current contents.
func (m *Map[K, V]) Snapshot() map[K]V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[K]V, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Range iterates over a snapshot until fn returns false.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for k, v := range m.Snapshot() {
		if !fn(k, v) {
			return
		}
	}
}

// View returns m as a read-only map.
func (m *Map[K, V]) View() ReadOnly[K, V] {
	return m
}

func (m *Map[K, V]) signal(keys ...K) {
	items := m.itemObservers.Snapshot()
	for _, k := range keys {
		for _, fn := range items {
			fn(k)
		}
	}
	for _, fn := range m.anyObservers.Snapshot() {
		fn()
	}
}
