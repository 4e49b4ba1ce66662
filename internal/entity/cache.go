// Package entity caches domain entities with a per-entity timestamp and
// TTL, and signals observers when any entity changes.
package entity

import (
	"math"
	"sync/atomic"
	"time"

	"fluent-cache/internal/clock"
	"fluent-cache/internal/live"
)

// NoExpiry is the default TTL: entries never go stale.
const NoExpiry = time.Duration(math.MaxInt64)

// Item is what the cache holds for one key. Value, CachedAt and TTL are
// always written together.
type Item[V any] struct {
	Value    V
	CachedAt time.Time
	TTL      time.Duration
}

// Fresh reports whether the item is still within its TTL at now.
func (it Item[V]) Fresh(now time.Time) bool {
	return now.Sub(it.CachedAt) <= it.TTL
}

// Reader is the read side of a Cache.
type Reader[K comparable, V any] interface {
	Get(key K) (V, bool)
	TryGetNotExpired(key K) (V, bool)
	HasMissedOrExpired(key K) bool
	Contains(key K) bool
	Len() int
	Keys() []K
	Items() map[K]Item[V]
	OnEntityChanged(fn func(key K)) (unsubscribe func())
	OnAnyChanged(fn func()) (unsubscribe func())
}

type Cache[K comparable, V any] struct {
	items      *live.Map[K, Item[V]]
	defaultTTL atomic.Int64
	clock      clock.Clock
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl   time.Duration
	clock clock.Clock
}

func WithDefaultTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	o := options{ttl: NoExpiry, clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[K, V]{
		items: live.New[K, Item[V]](),
		clock: o.clock,
	}
	c.defaultTTL.Store(int64(o.ttl))
	return c
}

func (c *Cache[K, V]) DefaultTTL() time.Duration {
	return time.Duration(c.defaultTTL.Load())
}

// SetDefaultTTL changes the TTL applied by future Set and Add calls.
func (c *Cache[K, V]) SetDefaultTTL(d time.Duration) {
	c.defaultTTL.Store(int64(d))
}

/* ---------- raw access ---------- */

// Get returns the stored value regardless of staleness.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	it, ok := c.items.Get(key)
	return it.Value, ok
}

// Item returns the full record for key.
func (c *Cache[K, V]) Item(key K) (Item[V], bool) {
	return c.items.Get(key)
}

// Set stores value with the current default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.DefaultTTL())
}

// SetWithTTL stores value with an explicit TTL, stamping it with now.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.items.Set(key, c.item(value, ttl))
}

// Add inserts value with the default TTL, failing if key exists.
func (c *Cache[K, V]) Add(key K, value V) error {
	return c.AddWithTTL(key, value, c.DefaultTTL())
}

func (c *Cache[K, V]) AddWithTTL(key K, value V, ttl time.Duration) error {
	return c.items.Add(key, c.item(value, ttl))
}

func (c *Cache[K, V]) Remove(key K) bool {
	return c.items.Remove(key)
}

func (c *Cache[K, V]) Clear() {
	c.items.Clear()
}

func (c *Cache[K, V]) Contains(key K) bool { return c.items.Contains(key) }
func (c *Cache[K, V]) Len() int            { return c.items.Len() }
func (c *Cache[K, V]) Keys() []K           { return c.items.Keys() }

func (c *Cache[K, V]) Values() []V {
	items := c.items.Values()
	out := make([]V, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out
}

// Items returns a snapshot of every record.
func (c *Cache[K, V]) Items() map[K]Item[V] {
	return c.items.Snapshot()
}

func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	c.items.Range(func(k K, it Item[V]) bool {
		return fn(k, it.Value)
	})
}

/* ---------- staleness ---------- */

// TryGetNotExpired returns the value only while cachedAt+ttl >= now.
// A stale entry is left in place.
func (c *Cache[K, V]) TryGetNotExpired(key K) (V, bool) {
	it, ok := c.items.Get(key)
	if !ok || !it.Fresh(c.clock.Now()) {
		var zero V
		return zero, false
	}
	return it.Value, true
}

// HasMissedOrExpired is the negation of TryGetNotExpired.
func (c *Cache[K, V]) HasMissedOrExpired(key K) bool {
	_, ok := c.TryGetNotExpired(key)
	return !ok
}

// Age is how long ago key was cached.
func (c *Cache[K, V]) Age(key K) (time.Duration, bool) {
	it, ok := c.items.Get(key)
	if !ok {
		return 0, false
	}
	return c.clock.Now().Sub(it.CachedAt), true
}

// RemainingTTL is ttl minus age, floored at zero.
func (c *Cache[K, V]) RemainingTTL(key K) (time.Duration, bool) {
	it, ok := c.items.Get(key)
	if !ok {
		return 0, false
	}
	left := it.TTL - c.clock.Now().Sub(it.CachedAt)
	if left < 0 {
		left = 0
	}
	return left, true
}

func (c *Cache[K, V]) TTL(key K) (time.Duration, bool) {
	it, ok := c.items.Get(key)
	return it.TTL, ok
}

func (c *Cache[K, V]) CachedAt(key K) (time.Time, bool) {
	it, ok := c.items.Get(key)
	return it.CachedAt, ok
}

/* ---------- notifications ---------- */

func (c *Cache[K, V]) OnEntityChanged(fn func(key K)) (unsubscribe func()) {
	return c.items.OnItemChanged(fn)
}

func (c *Cache[K, V]) OnAnyChanged(fn func()) (unsubscribe func()) {
	return c.items.OnChanged(fn)
}

// View returns c as a Reader.
func (c *Cache[K, V]) View() Reader[K, V] {
	return c
}

// RemoveExpired drops stale entries and returns how many were removed.
// Each removal raises the usual change signals.
func (c *Cache[K, V]) RemoveExpired() int {
	now := c.clock.Now()
	removed := 0
	stale := func(it Item[V]) bool { return !it.Fresh(now) }
	for _, k := range c.items.Keys() {
		if c.items.RemoveIf(k, stale) {
			removed++
		}
	}
	return removed
}

func (c *Cache[K, V]) item(value V, ttl time.Duration) Item[V] {
	return Item[V]{Value: value, CachedAt: c.clock.Now(), TTL: ttl}
}
