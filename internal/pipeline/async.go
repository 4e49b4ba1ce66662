package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
)

// ExecuteAsync runs the pipeline without blocking the caller.
//
// Start hooks and the cache lookup run on the calling goroutine, which is
// expected to be the dispatcher's owner. The producer runs on the worker
// pool. Cache writes, hooks and cb then run on the dispatcher. A cache hit
// completes inline. cb is called exactly once, with the same value and
// error Execute would have returned.
func (p Pipeline[T]) ExecuteAsync(ctx context.Context, cb func(T, error)) {
	if cb == nil {
		cb = func(T, error) {}
	}
	x := p.begin()

	if r, hit := x.lookup(); hit {
		x.complete(r.Value)
		cb(r.Value, nil)
		return
	}

	deliver := func(v T, outcome Outcome, err error) {
		p.rt.Dispatcher.Enqueue(func() {
			r := x.finish(v, outcome, err)
			if r.Outcome == Suppressed {
				cb(r.Value, nil)
				return
			}
			cb(r.Value, r.Err)
		})
	}

	// The pool must not drop the job on cancel or cb would never run;
	// produce reports the cancellation itself.
	err := p.rt.Pool.Go(context.WithoutCancel(ctx), func(context.Context) {
		v, outcome, err := x.produce(ctx)
		deliver(v, outcome, err)
	})
	if err != nil {
		var zero T
		deliver(zero, x.failure(), fmt.Errorf("schedule execution %s: %w", x.id, err))
	}
}

// scheduleRefresh starts a detached run of a hook-free copy of p under the
// refresh context and reports back through the dispatcher.
func (p Pipeline[T]) scheduleRefresh(parent string) {
	c := p.cache
	bg := p.withoutHooks()
	ctx := c.refreshCtx
	log := p.rt.Logger.Named(p.name)
	reg := p.rt.Metrics

	id := uuid.NewString()
	reg.Inc(metrics.RefreshScheduledTotal)
	log.Debugf("execution %s scheduled refresh %s", parent, id)

	err := p.rt.Pool.Go(ctx, func(ctx context.Context) {
		x := &execution[T]{p: bg, id: id, log: log, metrics: reg}
		v, outcome, err := x.produce(ctx)

		p.rt.Dispatcher.Enqueue(func() {
			applyRefresh(ctx, c, log, reg, id, v, outcome, err)
		})
	})
	if err != nil {
		reg.Inc(metrics.RefreshFailureTotal)
		log.Warnf("refresh %s not scheduled: %v", id, err)
	}
}

// applyRefresh runs on the dispatcher.
func applyRefresh[T any](ctx context.Context, c cacheSpec[T], log *logs.Logger, reg *metrics.Registry,
	id string, v T, outcome Outcome, err error) {
	if ctx.Err() != nil {
		reg.Inc(metrics.RefreshDiscardedTotal)
		log.Debugf("refresh %s discarded: %v", id, ctx.Err())
		return
	}
	if !outcome.ok() {
		reg.Inc(metrics.RefreshFailureTotal)
		log.Warnf("refresh failed %s: %v", id, err)
		return
	}

	c.set(v, c.ttl)
	reg.Inc(metrics.CacheWritesTotal)
	reg.Inc(metrics.RefreshSuccessTotal)
	c.refresh(v)
}

// Await runs ExecuteAsync on the dispatcher's owner goroutine and blocks
// until cb fires or ctx ends. The dispatcher must be running.
func (p Pipeline[T]) Await(ctx context.Context) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	var zero T
	err := p.rt.Dispatcher.Call(ctx, func() {
		p.ExecuteAsync(ctx, func(v T, err error) { done <- result{v, err} })
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
