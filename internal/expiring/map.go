package expiring

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"fluent-cache/internal/clock"
)

// ErrKeyExists is returned by Add when a live entry is already stored.
var ErrKeyExists = errors.New("expiring: key already exists")

// Map is a concurrency-safe map whose entries expire after a TTL.
//
// Expiry is lazy: an expired entry is invisible to every read but stays
// stored until it is overwritten, removed, cleared or swept by
// RemoveExpired.
type Map[K comparable, V any] struct {
	mu         sync.RWMutex
	data       map[K]Entry[V]
	defaultTTL time.Duration
	clock      clock.Clock
}

// Option configures a Map.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a map whose Set and Add use defaultTTL.
func New[K comparable, V any](defaultTTL time.Duration, opts ...Option) *Map[K, V] {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Map[K, V]{
		data:       make(map[K]Entry[V]),
		defaultTTL: defaultTTL,
		clock:      o.clock,
	}
}

func (m *Map[K, V]) DefaultTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultTTL
}

func (m *Map[K, V]) SetDefaultTTL(ttl time.Duration) {
	m.mu.Lock()
	m.defaultTTL = ttl
	m.mu.Unlock()
}

// Get returns the value for key if it is present and not expired.
func (m *Map[K, V]) Get(key K) (V, bool) {
	now := m.clock.Now()

	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok || e.IsExpired(now) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Entry returns the raw live entry for key.
func (m *Map[K, V]) Entry(key K) (Entry[V], bool) {
	now := m.clock.Now()

	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok || e.IsExpired(now) {
		return Entry[V]{}, false
	}
	return e, true
}

// Set stores value under key with the default TTL, overwriting any entry.
func (m *Map[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = Entry[V]{Value: value, ExpiresAt: expiryFrom(m.clock.Now(), m.defaultTTL)}
}

// SetWithTTL stores value under key expiring after ttl.
func (m *Map[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = Entry[V]{Value: value, ExpiresAt: expiryFrom(m.clock.Now(), ttl)}
}

// Add stores value with the default TTL unless a live entry exists.
// An expired entry is treated as absent and replaced.
func (m *Map[K, V]) Add(key K, value V) error {
	return m.add(key, value, nil)
}

// AddWithTTL is Add with an explicit TTL.
func (m *Map[K, V]) AddWithTTL(key K, value V, ttl time.Duration) error {
	return m.add(key, value, &ttl)
}

func (m *Map[K, V]) add(key K, value V, ttl *time.Duration) error {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok && !e.IsExpired(now) {
		return fmt.Errorf("add %v: %w", key, ErrKeyExists)
	}
	d := m.defaultTTL
	if ttl != nil {
		d = *ttl
	}
	m.data[key] = Entry[V]{Value: value, ExpiresAt: expiryFrom(now, d)}
	return nil
}

// Remove deletes key. It reports whether a live entry was removed; an
// expired entry is deleted too but reported as absent.
func (m *Map[K, V]) Remove(key K) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return false
	}
	delete(m.data, key)
	return !e.IsExpired(now)
}

// Clear drops every entry, expired or not.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	m.data = make(map[K]Entry[V])
	m.mu.Unlock()
}

func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Len counts live entries.
func (m *Map[K, V]) Len() int {
	now := m.clock.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.data {
		if !e.IsExpired(now) {
			n++
		}
	}
	return n
}

// Keys returns live keys in no particular order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0)
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Values returns live values in no particular order.
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0)
	m.Range(func(_ K, v V) bool {
		values = append(values, v)
		return true
	})
	return values
}

// Range calls fn for each live entry until fn returns false. It iterates
// over a snapshot so fn may mutate the map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	now := m.clock.Now()

	m.mu.RLock()
	live := make(map[K]V, len(m.data))
	for k, e := range m.data {
		if !e.IsExpired(now) {
			live[k] = e.Value
		}
	}
	m.mu.RUnlock()

	for k, v := range live {
		if !fn(k, v) {
			return
		}
	}
}

// RemoveExpired physically deletes expired entries and returns how many
// were dropped.
func (m *Map[K, V]) RemoveExpired() int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.data {
		if e.IsExpired(now) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

// stored counts entries including expired ones.
func (m *Map[K, V]) stored() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
