package catalog

import (
	"context"
	"slices"
	"strings"
	"time"

	"fluent-cache/internal/clock"
	"fluent-cache/internal/entity"
	"fluent-cache/internal/logs"
	"fluent-cache/internal/pipeline"
	"fluent-cache/internal/repository"
	"fluent-cache/internal/retry"
	"fluent-cache/internal/ttl"
)

type Options struct {
	Retry     retry.Policy
	QueryTTL  time.Duration
	EntityTTL time.Duration
	Clock     clock.Clock
}

// Service builds the pipelines the API runs.
type Service struct {
	backend Backend
	repo    *repository.Repository[string, Product]
	retry   retry.Policy
	clock   clock.Clock

	// refreshCtx bounds background refreshes; cancel it on shutdown.
	refreshCtx context.Context

	logger *logs.Logger
}

// NewService wires backend into a product repository. Background refreshes
// run under ctx.
func NewService(ctx context.Context, rt *pipeline.Runtime, backend Backend, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	s := &Service{
		backend:    backend,
		retry:      opts.Retry,
		clock:      opts.Clock,
		refreshCtx: ctx,
		logger:     rt.Logger.Named("catalog"),
	}
	s.repo = repository.New(rt, repository.Config[string, Product]{
		Name:      "products",
		KeyOf:     func(p Product) string { return p.ID },
		Changed:   func(prev, next Product) bool { return prev != next },
		QueryTTL:  opts.QueryTTL,
		EntityTTL: opts.EntityTTL,
		Clock:     opts.Clock,
	})
	s.repo.OnEntityUpdated(func(p Product) {
		s.logger.Debugf("product %s updated", p.ID)
	})
	return s
}

// Product reads one product through the entity cache, retrying transient
// backend failures.
func (s *Service) Product(id string) pipeline.Pipeline[Product] {
	return s.repo.ByKey(id, s.backend.Fetch).
		RetryWith(s.retry).
		RetryIf(IsTransient)
}

// List reads a category listing. Cached listings are served at once and
// refreshed in the background. When the backend stays unavailable the
// listing is rebuilt from cached entities.
func (s *Service) List(category string) pipeline.Pipeline[[]Product] {
	return s.repo.Query("list", []any{strings.ToLower(category)}, func(ctx context.Context) ([]Product, error) {
		return s.backend.List(ctx, category)
	}).
		RetryWith(s.retry).
		RetryIf(IsTransient).
		Fallback(func(context.Context) ([]Product, error) {
			return s.cached(category), nil
		}).
		FallbackIf(IsTransient).
		RefreshIfCached(s.refreshCtx, func(ps []Product) {
			s.logger.Debugf("listing %q refreshed with %d products", category, len(ps))
		})
}

// Entities exposes the entity cache read-only.
func (s *Service) Entities() entity.Reader[string, Product] {
	return s.repo.Entities()
}

// Now is the time entity freshness is judged against.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Invalidate drops cached listings and, unless queryOnly, cached products.
func (s *Service) Invalidate(queryOnly bool) {
	s.repo.InvalidateCache(queryOnly)
}

// SweepTargets lists the caches a ttl.Sweeper should clean. Stale
// products are kept for the listing fallback.
func (s *Service) SweepTargets() []ttl.Target {
	return []ttl.Target{s.repo}
}

func (s *Service) cached(category string) []Product {
	out := []Product{}
	for _, it := range s.repo.Entities().Items() {
		if category == "" || strings.EqualFold(it.Value.Category, category) {
			out = append(out, it.Value)
		}
	}
	slices.SortFunc(out, func(a, b Product) int { return strings.Compare(a.ID, b.ID) })
	return out
}
