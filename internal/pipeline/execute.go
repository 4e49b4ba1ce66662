package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
	"fluent-cache/internal/retry"
)

// Execute runs the pipeline on the calling goroutine.
//
// A suppressed failure returns the zero value and a nil error; use Run to
// tell it apart from a success.
func (p Pipeline[T]) Execute(ctx context.Context) (T, error) {
	r := p.Run(ctx)
	if r.Outcome == Suppressed {
		return r.Value, nil
	}
	return r.Value, r.Err
}

// Run executes the pipeline and reports how it ended.
func (p Pipeline[T]) Run(ctx context.Context) Result[T] {
	x := p.begin()

	if r, hit := x.lookup(); hit {
		x.complete(r.Value)
		return r
	}

	v, outcome, err := x.produce(ctx)
	return x.finish(v, outcome, err)
}

// execution carries per-run state: the id used in log lines and the
// logger tagged with the pipeline name.
type execution[T any] struct {
	p       Pipeline[T]
	id      string
	log     *logs.Logger
	metrics *metrics.Registry
}

// begin assigns an execution id and fires start hooks.
func (p Pipeline[T]) begin() *execution[T] {
	x := &execution[T]{
		p:       p,
		id:      uuid.NewString(),
		log:     p.rt.Logger.Named(p.name),
		metrics: p.rt.Metrics,
	}
	x.metrics.Inc(metrics.PipelineExecutionsTotal)
	x.log.Debugf("execution %s started", x.id)

	for _, fn := range p.onStart {
		fn()
	}
	return x
}

// lookup serves a cache hit and schedules a background refresh if one is
// configured.
func (x *execution[T]) lookup() (Result[T], bool) {
	c := x.p.cache
	if !c.enabled || c.fresh {
		return Result[T]{}, false
	}

	v, ok := c.get()
	if !ok {
		x.metrics.Inc(metrics.CacheMissesTotal)
		return Result[T]{}, false
	}

	x.metrics.Inc(metrics.CacheHitsTotal)
	x.log.Debugf("execution %s served from cache", x.id)
	if c.refresh != nil {
		x.p.scheduleRefresh(x.id)
	}
	return Result[T]{Value: v, Outcome: Cached}, true
}

// produce runs the retry and fallback phases. It touches no hooks and
// no cache, so it is safe to run off the dispatcher.
func (x *execution[T]) produce(ctx context.Context) (T, Outcome, error) {
	var zero T
	p := x.p

	if err := ctx.Err(); err != nil {
		return zero, Canceled, err
	}

	v, err := x.attempts(ctx)
	if err == nil {
		return v, Succeeded, nil
	}
	if retry.IsCanceled(ctx, err) {
		return zero, Canceled, cancelCause(ctx, err)
	}

	if p.fallback.enabled && anyAccepts(p.fallback.filters, err) {
		x.log.Infof("execution %s falling back: %v", x.id, err)
		fv, ferr := guard(ctx, p.fallback.producer)
		if ferr == nil {
			return fv, FallenBack, nil
		}
		if retry.IsCanceled(ctx, ferr) {
			return zero, Canceled, cancelCause(ctx, ferr)
		}
		err = errors.Join(err, fmt.Errorf("fallback: %w", ferr))
	}

	return zero, x.failure(), err
}

// failure is the terminal state of an unrecoverable error: error hooks
// turn it into Suppressed.
func (x *execution[T]) failure() Outcome {
	if len(x.p.onError) > 0 {
		return Suppressed
	}
	return Propagated
}

func (x *execution[T]) attempts(ctx context.Context) (T, error) {
	call := func(ctx context.Context) (T, error) {
		x.metrics.Inc(metrics.PipelineAttemptsTotal)
		return guard(ctx, x.p.producer)
	}

	rs := x.p.retry
	if !rs.enabled {
		return call(ctx)
	}

	policy := rs.policy
	if len(rs.filters) > 0 {
		filters := rs.filters
		policy.Retryable = func(err error) bool { return anyAccepts(filters, err) }
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(n int, err error, delay time.Duration) {
		x.metrics.Inc(metrics.PipelineRetriesTotal)
		x.log.Debugf("execution %s attempt %d failed, retrying in %s: %v", x.id, n, delay, err)
		if onRetry != nil {
			onRetry(n, err, delay)
		}
	}
	return retry.Do(ctx, policy, call)
}

// finish applies the terminal state: cache write and hooks.
func (x *execution[T]) finish(v T, outcome Outcome, err error) Result[T] {
	var zero T
	p := x.p

	switch outcome {
	case Succeeded, FallenBack:
		if outcome == FallenBack {
			x.metrics.Inc(metrics.PipelineFallbacksTotal)
		} else {
			x.metrics.Inc(metrics.PipelineSuccessTotal)
		}
		if p.cache.enabled {
			p.cache.set(v, p.cache.ttl)
			x.metrics.Inc(metrics.CacheWritesTotal)
		}
		x.complete(v)
		return Result[T]{Value: v, Outcome: outcome}

	case Suppressed:
		x.metrics.Inc(metrics.PipelineSuppressedTotal)
		x.log.Warnf("execution %s failed, error suppressed: %v", x.id, err)
		for _, fn := range p.onError {
			fn(err)
		}
		x.complete(zero)
		return Result[T]{Value: zero, Outcome: Suppressed, Err: err}

	case Canceled:
		x.metrics.Inc(metrics.PipelineCanceledTotal)
		x.log.Debugf("execution %s canceled: %v", x.id, err)
		return Result[T]{Value: zero, Outcome: Canceled, Err: err}

	default:
		x.metrics.Inc(metrics.PipelineErrorsTotal)
		x.log.Warnf("execution %s failed: %v", x.id, err)
		return Result[T]{Value: zero, Outcome: Propagated, Err: err}
	}
}

func (x *execution[T]) complete(v T) {
	for _, fn := range x.p.onComplete {
		fn(v)
	}
}

// guard turns a producer panic into an error.
func guard[T any](ctx context.Context, fn Producer[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return fn(ctx)
}

func cancelCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
