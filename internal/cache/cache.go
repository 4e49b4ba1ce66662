// Package cache is a heterogeneous key/value cache with per-entry TTL.
// Values are stored as any and read back through the generic Get, which
// treats a type mismatch as a miss.
package cache

import (
	"errors"
	"fmt"
	"time"

	"fluent-cache/internal/clock"
	"fluent-cache/internal/expiring"
)

// ErrMiss is returned by Lookup when no live value of the requested type exists.
var ErrMiss = errors.New("cache: miss")

type Cache struct {
	entries *expiring.Map[string, any]
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	clock clock.Clock
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// New creates a cache. defaultTTL applies when Set is called with ttl <= 0.
func New(defaultTTL time.Duration, opts ...Option) *Cache {
	cfg := config{clock: clock.Real()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache{
		entries: expiring.New[string, any](defaultTTL, expiring.WithClock(cfg.clock)),
	}
}

func (c *Cache) Contains(key string) bool {
	return c.entries.Contains(key)
}

// Set stores value under key. A non-positive ttl uses the default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		c.entries.Set(key, value)
		return
	}
	c.entries.SetWithTTL(key, value, ttl)
}

// Invalidate removes key.
func (c *Cache) Invalidate(key string) {
	c.entries.Remove(key)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.entries.Clear()
}

// Len counts live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// RemoveExpired sweeps expired entries.
func (c *Cache) RemoveExpired() int {
	return c.entries.RemoveExpired()
}

// Get returns the value under key if it is live and its dynamic type is T.
func Get[T any](c *Cache, key string) (T, bool) {
	var zero T
	raw, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Lookup is Get returning ErrMiss instead of a bool.
func Lookup[T any](c *Cache, key string) (T, error) {
	v, ok := Get[T](c, key)
	if !ok {
		return v, fmt.Errorf("lookup %q: %w", key, ErrMiss)
	}
	return v, nil
}
