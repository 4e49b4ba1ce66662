// Package repository binds pipelines to a query cache and an entity cache
// and turns entity changes into domain events.
package repository

import (
	"context"
	"fmt"
	"time"

	"fluent-cache/internal/cache"
	"fluent-cache/internal/clock"
	"fluent-cache/internal/entity"
	"fluent-cache/internal/live"
	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
	"fluent-cache/internal/pipeline"
)

// Config describes a repository.
type Config[K comparable, V any] struct {
	Name string

	// KeyOf extracts the entity key. Entities with a zero key are not cached.
	KeyOf func(V) K

	// Changed reports whether next differs from prev. When nil every write
	// counts as a change.
	Changed func(prev, next V) bool

	QueryTTL  time.Duration // defaults to DefaultShortTTL
	EntityTTL time.Duration // defaults to DefaultLongTTL

	Clock clock.Clock
}

type Repository[K comparable, V any] struct {
	name    string
	rt      *pipeline.Runtime
	keyOf   func(V) K
	changed func(prev, next V) bool

	queryTTL time.Duration
	queries  *cache.Cache
	entities *entity.Cache[K, V]
	inflight flights

	entityUpdated   live.Observers[func(V)]
	entitiesUpdated live.Observers[func()]

	logger  *logs.Logger
	metrics *metrics.Registry
}

// New creates a repository. It panics without a runtime or KeyOf.
func New[K comparable, V any](rt *pipeline.Runtime, cfg Config[K, V]) *Repository[K, V] {
	if rt == nil || cfg.KeyOf == nil {
		panic("repository: runtime and KeyOf are required")
	}
	if cfg.Name == "" {
		cfg.Name = "repository"
	}
	if cfg.QueryTTL <= 0 {
		cfg.QueryTTL = DefaultShortTTL
	}
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = DefaultLongTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Changed == nil {
		cfg.Changed = func(V, V) bool { return true }
	}

	return &Repository[K, V]{
		name:     cfg.Name,
		rt:       rt,
		keyOf:    cfg.KeyOf,
		changed:  cfg.Changed,
		queryTTL: cfg.QueryTTL,
		queries:  cache.New(cfg.QueryTTL, cache.WithClock(cfg.Clock)),
		entities: entity.New[K, V](entity.WithDefaultTTL(cfg.EntityTTL), entity.WithClock(cfg.Clock)),
		logger:   rt.Logger.Named(cfg.Name),
		metrics:  rt.Metrics,
	}
}

// Entities exposes the entity cache read-only.
func (r *Repository[K, V]) Entities() entity.Reader[K, V] {
	return r.entities.View()
}

// Query builds a pipeline for a list query. Results are memoised under
// "list:" + QueryHash(name, params...) and merged into the entity cache on
// completion. Identical concurrent queries share one producer call.
func (r *Repository[K, V]) Query(name string, params []any, producer pipeline.Producer[[]V]) pipeline.Pipeline[[]V] {
	key := QueryHash(name, params...)
	return pipeline.New(r.rt, shared(&r.inflight, "list:"+key, producer)).
		Named(r.name+"."+name).
		CacheIn(r.queries, "list:"+key, r.queryTTL).
		OnComplete(r.storeAll)
}

// QueryOne is Query for a single entity.
func (r *Repository[K, V]) QueryOne(name string, params []any, producer pipeline.Producer[V]) pipeline.Pipeline[V] {
	key := QueryHash(name, params...)
	return pipeline.New(r.rt, shared(&r.inflight, "one:"+key, producer)).
		Named(r.name+"."+name).
		CacheIn(r.queries, "one:"+key, r.queryTTL).
		OnComplete(func(v V) { r.storeAll([]V{v}) })
}

// ByKey builds a pipeline reading one entity through the entity cache.
// Fresh entries are served directly; stale or missing ones are fetched.
func (r *Repository[K, V]) ByKey(key K, fetch func(ctx context.Context, key K) (V, error)) pipeline.Pipeline[V] {
	flightKey := fmt.Sprintf("entity:%v", key)
	return pipeline.New(r.rt, shared(&r.inflight, flightKey, func(ctx context.Context) (V, error) {
		return fetch(ctx, key)
	})).
		Named(r.name+".by_key").
		Cache(
			func() (V, bool) { return r.entities.TryGetNotExpired(key) },
			func(v V, ttl time.Duration) { r.storeWithTTL([]V{v}, ttl) },
			r.entities.DefaultTTL(),
		)
}

// OnEntityUpdated subscribes to individual entity changes.
func (r *Repository[K, V]) OnEntityUpdated(fn func(V)) (unsubscribe func()) {
	return r.entityUpdated.Add(fn)
}

// OnEntitiesUpdated fires once per batch that changed at least one entity.
func (r *Repository[K, V]) OnEntitiesUpdated(fn func()) (unsubscribe func()) {
	return r.entitiesUpdated.Add(fn)
}

// InvalidateCache drops memoised query results and, unless queryOnly,
// every cached entity.
func (r *Repository[K, V]) InvalidateCache(queryOnly bool) {
	r.queries.InvalidateAll()
	if !queryOnly {
		r.entities.Clear()
	}
	r.metrics.Inc(metrics.RepositoryInvalidationsTotal)
	r.logger.Infof("cache invalidated (query only: %t)", queryOnly)
}

// RemoveExpired sweeps expired query results.
func (r *Repository[K, V]) RemoveExpired() int {
	return r.queries.RemoveExpired()
}

func (r *Repository[K, V]) storeAll(vs []V) {
	r.storeWithTTL(vs, r.entities.DefaultTTL())
}

// storeWithTTL writes entities and raises domain events for the ones that
// were missing, stale or changed.
func (r *Repository[K, V]) storeWithTTL(vs []V, ttl time.Duration) {
	var zero K
	var updated []V

	for _, v := range vs {
		k := r.keyOf(v)
		if k == zero {
			continue
		}
		prev, fresh := r.entities.TryGetNotExpired(k)
		r.entities.SetWithTTL(k, v, ttl)
		if !fresh || r.changed(prev, v) {
			updated = append(updated, v)
		}
	}
	if len(updated) == 0 {
		return
	}

	r.metrics.Add(metrics.RepositoryEntitiesUpdatedTotal, int64(len(updated)))
	for _, v := range updated {
		for _, fn := range r.entityUpdated.Snapshot() {
			fn(v)
		}
	}
	for _, fn := range r.entitiesUpdated.Snapshot() {
		fn()
	}
}
