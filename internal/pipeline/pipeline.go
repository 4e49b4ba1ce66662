// Package pipeline wraps a producer function with retry, fallback,
// result caching with background refresh, and lifecycle hooks.
//
// A Pipeline is a value. Every builder method returns a configured copy
// and leaves the receiver untouched, so a partially built pipeline can be
// shared and specialised by unrelated callers.
package pipeline

import (
	"context"
	"errors"
	"time"

	"fluent-cache/internal/cache"
	"fluent-cache/internal/retry"
)

// Producer computes a value. It may block and should honour ctx.
type Producer[T any] func(ctx context.Context) (T, error)

// Getter reads a cached value.
type Getter[T any] func() (T, bool)

// Setter writes a value to the cache.
type Setter[T any] func(value T, ttl time.Duration)

// DefaultMaxBackoff caps the wait between attempts configured with Retry.
const DefaultMaxBackoff = 30 * time.Second

type retrySpec struct {
	enabled bool
	policy  retry.Policy
	filters []func(error) bool
}

type fallbackSpec[T any] struct {
	enabled  bool
	producer Producer[T]
	filters  []func(error) bool
}

type cacheSpec[T any] struct {
	enabled    bool
	get        Getter[T]
	set        Setter[T]
	ttl        time.Duration
	fresh      bool
	refresh    func(T)
	refreshCtx context.Context
}

// Pipeline describes one operation and how it retries, falls back and caches.
type Pipeline[T any] struct {
	rt       *Runtime
	name     string
	producer Producer[T]

	retry    retrySpec
	fallback fallbackSpec[T]
	cache    cacheSpec[T]

	onStart    []func()
	onComplete []func(T)
	onError    []func(error)
}

// New wraps producer. It panics if rt or producer is nil.
func New[T any](rt *Runtime, producer Producer[T]) Pipeline[T] {
	if rt == nil {
		misuse("New", "nil runtime")
	}
	if producer == nil {
		misuse("New", "nil producer")
	}
	return Pipeline[T]{rt: rt, producer: producer, name: "pipeline"}
}

// NewAction wraps a function that produces no value.
func NewAction(rt *Runtime, fn func(ctx context.Context) error) Pipeline[struct{}] {
	if fn == nil {
		misuse("NewAction", "nil action")
	}
	return New(rt, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Named labels the pipeline in logs.
func (p Pipeline[T]) Named(name string) Pipeline[T] {
	p.name = name
	return p
}

/* ---------- retry ---------- */

// Retry enables retrying up to maxAttempts total calls, waiting
// baseBackoff * 2^(n-1) after the n-th failure.
func (p Pipeline[T]) Retry(maxAttempts int, baseBackoff time.Duration) Pipeline[T] {
	return p.RetryWith(retry.Policy{
		MaxAttempts: maxAttempts,
		BaseBackoff: baseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	})
}

// RetryWith enables retrying with a full policy. A Retryable set on the
// policy acts as the first filter.
func (p Pipeline[T]) RetryWith(policy retry.Policy) Pipeline[T] {
	var filters []func(error) bool
	if policy.Retryable != nil {
		filters = []func(error) bool{policy.Retryable}
		policy.Retryable = nil
	}
	p.retry = retrySpec{enabled: true, policy: policy, filters: filters}
	return p
}

// RetryIf restricts retries to errors accepted by at least one filter.
func (p Pipeline[T]) RetryIf(filter func(error) bool) Pipeline[T] {
	if !p.retry.enabled {
		misuse("RetryIf", "retry is not enabled")
	}
	if filter == nil {
		misuse("RetryIf", "nil filter")
	}
	p.retry.filters = appendCopy(p.retry.filters, filter)
	return p
}

// NoRetry disables retrying.
func (p Pipeline[T]) NoRetry() Pipeline[T] {
	p.retry = retrySpec{}
	return p
}

// RetryWhen retries errors that match E (via errors.As) and, when sel is
// non-nil, that sel accepts.
func RetryWhen[E error, T any](p Pipeline[T], sel func(E) bool) Pipeline[T] {
	if !p.retry.enabled {
		misuse("RetryWhen", "retry is not enabled")
	}
	return p.RetryIf(matchAs(sel))
}

/* ---------- fallback ---------- */

// Fallback replaces a failed result with fn's. A nil fn yields the zero
// value.
func (p Pipeline[T]) Fallback(fn Producer[T]) Pipeline[T] {
	if fn == nil {
		fn = func(context.Context) (T, error) {
			var zero T
			return zero, nil
		}
	}
	p.fallback = fallbackSpec[T]{enabled: true, producer: fn}
	return p
}

// FallbackIf restricts the fallback to errors accepted by a filter.
func (p Pipeline[T]) FallbackIf(filter func(error) bool) Pipeline[T] {
	if !p.fallback.enabled {
		misuse("FallbackIf", "fallback is not enabled")
	}
	if filter == nil {
		misuse("FallbackIf", "nil filter")
	}
	p.fallback.filters = appendCopy(p.fallback.filters, filter)
	return p
}

func (p Pipeline[T]) NoFallback() Pipeline[T] {
	p.fallback = fallbackSpec[T]{}
	return p
}

// FallbackWhen falls back on errors matching E.
func FallbackWhen[E error, T any](p Pipeline[T], sel func(E) bool) Pipeline[T] {
	if !p.fallback.enabled {
		misuse("FallbackWhen", "fallback is not enabled")
	}
	return p.FallbackIf(matchAs(sel))
}

/* ---------- cache ---------- */

// Cache reads results through get and writes successes through set.
func (p Pipeline[T]) Cache(get Getter[T], set Setter[T], ttl time.Duration) Pipeline[T] {
	if get == nil || set == nil {
		misuse("Cache", "nil accessor")
	}
	p.cache = cacheSpec[T]{enabled: true, get: get, set: set, ttl: ttl}
	return p
}

// CacheIn caches results in c under key.
func (p Pipeline[T]) CacheIn(c *cache.Cache, key string, ttl time.Duration) Pipeline[T] {
	if c == nil {
		misuse("CacheIn", "nil cache")
	}
	return p.Cache(
		func() (T, bool) { return cache.Get[T](c, key) },
		func(v T, ttl time.Duration) { c.Set(key, v, ttl) },
		ttl,
	)
}

// CacheTTL overrides the TTL used for writes.
func (p Pipeline[T]) CacheTTL(ttl time.Duration) Pipeline[T] {
	if !p.cache.enabled {
		misuse("CacheTTL", "cache is not enabled")
	}
	p.cache.ttl = ttl
	return p
}

// Fresh skips the cache read; the result is still written.
func (p Pipeline[T]) Fresh() Pipeline[T] {
	if !p.cache.enabled {
		misuse("Fresh", "cache is not enabled")
	}
	p.cache.fresh = true
	return p
}

// RefreshIfCached makes a cache hit also start a background run under
// ctx. When that run succeeds the cache is rewritten and consumer
// receives the new value on the dispatcher.
func (p Pipeline[T]) RefreshIfCached(ctx context.Context, consumer func(T)) Pipeline[T] {
	if !p.cache.enabled {
		misuse("RefreshIfCached", "cache is not enabled")
	}
	if consumer == nil {
		misuse("RefreshIfCached", "nil consumer")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.cache.refresh = consumer
	p.cache.refreshCtx = ctx
	return p
}

func (p Pipeline[T]) NoCache() Pipeline[T] {
	p.cache = cacheSpec[T]{}
	return p
}

/* ---------- hooks ---------- */

func (p Pipeline[T]) OnStart(fn func()) Pipeline[T] {
	if fn != nil {
		p.onStart = appendCopy(p.onStart, fn)
	}
	return p
}

func (p Pipeline[T]) OnComplete(fn func(T)) Pipeline[T] {
	if fn != nil {
		p.onComplete = appendCopy(p.onComplete, fn)
	}
	return p
}

// OnError registers an error hook. With at least one registered, a
// failure that cannot fall back is suppressed instead of returned.
func (p Pipeline[T]) OnError(fn func(error)) Pipeline[T] {
	if fn != nil {
		p.onError = appendCopy(p.onError, fn)
	}
	return p
}

// withoutHooks is the copy a background refresh runs.
func (p Pipeline[T]) withoutHooks() Pipeline[T] {
	p.onStart, p.onComplete, p.onError = nil, nil, nil
	p.cache.refresh = nil
	return p
}

func matchAs[E error](sel func(E) bool) func(error) bool {
	return func(err error) bool {
		var target E
		if !errors.As(err, &target) {
			return false
		}
		return sel == nil || sel(target)
	}
}

func anyAccepts(filters []func(error) bool, err error) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f(err) {
			return true
		}
	}
	return false
}

// appendCopy never writes into a backing array another Pipeline may share.
func appendCopy[E any](s []E, v E) []E {
	out := make([]E, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}
