package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fluent-cache/internal/cache"
	"fluent-cache/internal/dispatch"
	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
	"fluent-cache/internal/retry"
	"fluent-cache/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* ---------------- helpers ---------------- */

var errUnavailable = errors.New("backend unavailable")

type statusError struct{ Code int }

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.Code) }

type env struct {
	rt      *Runtime
	disp    *dispatch.Dispatcher
	reg     *metrics.Registry
	logger  *logs.Logger
	scalars *cache.Cache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(200, logs.DEBUG)
	d := dispatch.New(dispatch.WithMetrics(reg), dispatch.WithLogger(logger))
	pool := worker.New(4, worker.WithMetrics(reg), worker.WithLogger(logger))
	t.Cleanup(pool.Close)

	return &env{
		rt:      NewRuntime(d, pool, WithLogger(logger), WithMetrics(reg)),
		disp:    d,
		reg:     reg,
		logger:  logger,
		scalars: cache.New(time.Minute),
	}
}

// drainUntil drains the dispatcher on the test goroutine until cond holds.
func (e *env) drainUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.disp.Drain()
		return cond()
	}, time.Second, time.Millisecond)
}

func constant[T any](v T) Producer[T] {
	return func(context.Context) (T, error) { return v, nil }
}

func failing[T any](calls *int32, err error) Producer[T] {
	return func(context.Context) (T, error) {
		n := atomic.AddInt32(calls, 1)
		var zero T
		return zero, fmt.Errorf("attempt %d: %w", n, err)
	}
}

func assertMisuse(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		var cfgErr *ConfigError
		require.ErrorAs(t, r.(error), &cfgErr)
		assert.Equal(t, op, cfgErr.Op)
	}()
	fn()
}

/* ---------------- terminal states ---------------- */

func TestRun_Succeeded(t *testing.T) {
	e := newEnv(t)
	var events []string

	r := New(e.rt, func(context.Context) (string, error) {
		events = append(events, "produce")
		return "value", nil
	}).
		OnStart(func() { events = append(events, "start-1") }).
		OnStart(func() { events = append(events, "start-2") }).
		OnComplete(func(v string) { events = append(events, "complete:"+v) }).
		OnError(func(error) { events = append(events, "error") }).
		Run(context.Background())

	require.NoError(t, r.Err)
	assert.Equal(t, Succeeded, r.Outcome)
	assert.Equal(t, "value", r.Value)
	assert.Equal(t, []string{"start-1", "start-2", "produce", "complete:value"}, events)
	assert.Equal(t, int64(1), e.reg.Get(metrics.PipelineSuccessTotal))
}

func TestRun_RetryBound(t *testing.T) {
	e := newEnv(t)
	var calls int32

	r := New(e.rt, failing[int](&calls, errUnavailable)).
		Retry(3, time.Millisecond).
		Run(context.Background())

	assert.Equal(t, Propagated, r.Outcome)
	assert.Equal(t, int32(3), calls)
	assert.EqualError(t, r.Err, "attempt 3: backend unavailable", "last error is the one returned")
	assert.Equal(t, int64(3), e.reg.Get(metrics.PipelineAttemptsTotal))
	assert.Equal(t, int64(2), e.reg.Get(metrics.PipelineRetriesTotal))
}

func TestRun_RetrySucceedsEventually(t *testing.T) {
	e := newEnv(t)
	var calls int32

	v, err := New(e.rt, func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errUnavailable
		}
		return 9, nil
	}).Retry(5, time.Millisecond).Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, int32(3), calls)
}

func TestRun_RetryFilters(t *testing.T) {
	t.Run("RetryIfRejects", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		_, err := New(e.rt, failing[int](&calls, errUnavailable)).
			Retry(5, time.Millisecond).
			RetryIf(func(err error) bool { return false }).
			Execute(context.Background())

		assert.ErrorIs(t, err, errUnavailable)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("AnyFilterAccepts", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		_, err := New(e.rt, failing[int](&calls, errUnavailable)).
			Retry(3, time.Millisecond).
			RetryIf(func(error) bool { return false }).
			RetryIf(func(err error) bool { return errors.Is(err, errUnavailable) }).
			Execute(context.Background())

		assert.Error(t, err)
		assert.Equal(t, int32(3), calls)
	})

	t.Run("RetryWhenMatchesType", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		p := New(e.rt, func(context.Context) (int, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return 0, fmt.Errorf("wrapped: %w", &statusError{Code: 503})
			}
			return 0, &statusError{Code: 400}
		}).Retry(5, time.Millisecond)

		_, err := RetryWhen(p, func(e *statusError) bool { return e.Code >= 500 }).
			Execute(context.Background())

		var se *statusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 400, se.Code)
		assert.Equal(t, int32(2), calls, "503 retried, 400 not")
	})

	t.Run("PolicyRetryable", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		_, err := New(e.rt, failing[int](&calls, errUnavailable)).
			RetryWith(retry.Policy{MaxAttempts: 4, Retryable: func(error) bool { return false }}).
			Execute(context.Background())

		assert.Error(t, err)
		assert.Equal(t, int32(1), calls)
	})
}

func TestRun_FallbackPrecedence(t *testing.T) {
	e := newEnv(t)
	var calls int32
	var completed []string
	errorHooks := 0

	r := New(e.rt, failing[string](&calls, errUnavailable)).
		Retry(2, time.Millisecond).
		Fallback(constant("F")).
		OnComplete(func(v string) { completed = append(completed, v) }).
		OnError(func(error) { errorHooks++ }).
		Run(context.Background())

	require.NoError(t, r.Err)
	assert.Equal(t, FallenBack, r.Outcome)
	assert.Equal(t, "F", r.Value)
	assert.Equal(t, []string{"F"}, completed)
	assert.Zero(t, errorHooks)
	assert.Equal(t, int32(2), calls, "fallback only after retries are exhausted")
}

func TestRun_FallbackFilters(t *testing.T) {
	t.Run("FallbackIfRejects", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		r := New(e.rt, failing[string](&calls, errUnavailable)).
			Fallback(constant("F")).
			FallbackIf(func(err error) bool { return false }).
			Run(context.Background())

		assert.Equal(t, Propagated, r.Outcome)
		assert.ErrorIs(t, r.Err, errUnavailable)
	})

	t.Run("FallbackWhenMatchesType", func(t *testing.T) {
		e := newEnv(t)
		p := New(e.rt, func(context.Context) (string, error) {
			return "", &statusError{Code: 404}
		}).Fallback(constant("default"))

		v, err := FallbackWhen(p, func(e *statusError) bool { return e.Code == 404 }).
			Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "default", v)
	})

	t.Run("NilFallbackYieldsZero", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		r := New(e.rt, failing[int](&calls, errUnavailable)).Fallback(nil).Run(context.Background())
		assert.Equal(t, FallenBack, r.Outcome)
		assert.Zero(t, r.Value)
	})

	t.Run("FallbackFailureJoinsErrors", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		errFallback := errors.New("fallback broke")
		_, err := New(e.rt, failing[int](&calls, errUnavailable)).
			Fallback(func(context.Context) (int, error) { return 0, errFallback }).
			Execute(context.Background())

		assert.ErrorIs(t, err, errUnavailable)
		assert.ErrorIs(t, err, errFallback)
	})
}

func TestRun_Suppressed(t *testing.T) {
	e := newEnv(t)
	var calls int32
	var events []string

	p := New(e.rt, failing[int](&calls, errUnavailable)).
		OnError(func(err error) { events = append(events, "error:"+err.Error()) }).
		OnComplete(func(v int) { events = append(events, fmt.Sprintf("complete:%d", v)) })

	r := p.Run(context.Background())
	assert.Equal(t, Suppressed, r.Outcome)
	assert.ErrorIs(t, r.Err, errUnavailable)
	assert.Equal(t, []string{"error:attempt 1: backend unavailable", "complete:0"}, events)

	v, err := p.Execute(context.Background())
	assert.NoError(t, err, "suppressed failure is not returned")
	assert.Zero(t, v)
	assert.Equal(t, int64(2), e.reg.Get(metrics.PipelineSuppressedTotal))
}

func TestRun_PropagatedFiresNoHooks(t *testing.T) {
	e := newEnv(t)
	var calls int32
	started, completed := 0, 0

	_, err := New(e.rt, failing[int](&calls, errUnavailable)).
		OnStart(func() { started++ }).
		OnComplete(func(int) { completed++ }).
		Execute(context.Background())

	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 1, started)
	assert.Zero(t, completed)
}

func TestRun_ProducerPanic(t *testing.T) {
	e := newEnv(t)
	_, err := New(e.rt, func(context.Context) (int, error) { panic("kaboom") }).
		Execute(context.Background())
	assert.ErrorIs(t, err, ErrProducerPanic)
}

/* ---------------- cancellation ---------------- */

func TestRun_Canceled(t *testing.T) {
	t.Run("BeforeStart", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		fallbacks, errorHooks := 0, 0

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := New(e.rt, failing[int](&calls, errUnavailable)).
			Retry(3, time.Millisecond).
			Fallback(func(context.Context) (int, error) { fallbacks++; return 1, nil }).
			OnError(func(error) { errorHooks++ }).
			Run(ctx)

		assert.Equal(t, Canceled, r.Outcome)
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Zero(t, calls)
		assert.Zero(t, fallbacks)
		assert.Zero(t, errorHooks)
	})

	t.Run("DuringBackoff", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		fallbacks := 0
		r := New(e.rt, failing[int](&calls, errUnavailable)).
			Retry(5, time.Second).
			Fallback(func(context.Context) (int, error) { fallbacks++; return 1, nil }).
			Run(ctx)

		assert.Equal(t, Canceled, r.Outcome)
		assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
		assert.Equal(t, int32(1), calls)
		assert.Zero(t, fallbacks)
	})

	t.Run("ProducerReportsCanceled", func(t *testing.T) {
		e := newEnv(t)
		errorHooks := 0
		r := New(e.rt, func(context.Context) (int, error) { return 0, context.Canceled }).
			Retry(3, time.Millisecond).
			OnError(func(error) { errorHooks++ }).
			Run(context.Background())

		assert.Equal(t, Canceled, r.Outcome)
		assert.Zero(t, errorHooks)
	})
}

/* ---------------- cache ---------------- */

func TestRun_CacheHit(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", "cached", time.Minute)

	var calls int32
	var completed []string
	r := New(e.rt, func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", nil
	}).
		CacheIn(e.scalars, "k", time.Minute).
		OnComplete(func(v string) { completed = append(completed, v) }).
		Run(context.Background())

	assert.Equal(t, Cached, r.Outcome)
	assert.Equal(t, "cached", r.Value)
	assert.Zero(t, calls)
	assert.Equal(t, []string{"cached"}, completed)
	assert.Equal(t, int64(1), e.reg.Get(metrics.CacheHitsTotal))
}

func TestRun_CacheMissWritesBeforeComplete(t *testing.T) {
	e := newEnv(t)
	var seenInCache string

	v, err := New(e.rt, constant("fresh")).
		CacheIn(e.scalars, "k", time.Minute).
		OnComplete(func(string) { seenInCache, _ = cache.Get[string](e.scalars, "k") }).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, "fresh", seenInCache)
}

func TestRun_CacheTypeMismatchIsMiss(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", 123, time.Minute)

	v, err := New(e.rt, constant("fresh")).CacheIn(e.scalars, "k", time.Minute).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestRun_FreshBypassesRead(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", "stale", time.Minute)

	v, err := New(e.rt, constant("fresh")).
		CacheIn(e.scalars, "k", time.Minute).
		Fresh().
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	cached, _ := cache.Get[string](e.scalars, "k")
	assert.Equal(t, "fresh", cached)
}

func TestRun_FallbackResultIsCached(t *testing.T) {
	e := newEnv(t)
	var calls int32

	_, err := New(e.rt, failing[string](&calls, errUnavailable)).
		Fallback(constant("F")).
		CacheIn(e.scalars, "k", time.Minute).
		Execute(context.Background())

	require.NoError(t, err)
	cached, ok := cache.Get[string](e.scalars, "k")
	require.True(t, ok)
	assert.Equal(t, "F", cached)
}

func TestRun_SuppressedIsNotCached(t *testing.T) {
	e := newEnv(t)
	var calls int32

	_, _ = New(e.rt, failing[string](&calls, errUnavailable)).
		CacheIn(e.scalars, "k", time.Minute).
		OnError(func(error) {}).
		Execute(context.Background())

	assert.False(t, e.scalars.Contains("k"))
}

func TestRun_CacheTTL(t *testing.T) {
	e := newEnv(t)
	var gotTTL time.Duration

	_, err := New(e.rt, constant(1)).
		Cache(
			func() (int, bool) { return 0, false },
			func(_ int, ttl time.Duration) { gotTTL = ttl },
			time.Minute,
		).
		CacheTTL(5 * time.Second).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, gotTTL)
}

func TestRun_StaleWhileRevalidate(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", "stale", time.Minute)

	release := make(chan struct{})
	var calls int32
	var refreshed []string
	var completed []string

	v, err := New(e.rt, func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "fresh", nil
	}).
		CacheIn(e.scalars, "k", time.Minute).
		RefreshIfCached(context.Background(), func(v string) { refreshed = append(refreshed, v) }).
		OnComplete(func(v string) { completed = append(completed, v) }).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "stale", v, "returns before the producer finishes")
	assert.Equal(t, []string{"stale"}, completed)

	close(release)
	e.drainUntil(t, func() bool { return len(refreshed) > 0 })

	e.disp.Drain()
	assert.Equal(t, []string{"fresh"}, refreshed, "consumer called exactly once")
	assert.Equal(t, []string{"stale"}, completed, "refresh does not rerun hooks")
	assert.Equal(t, int32(1), calls)

	cached, _ := cache.Get[string](e.scalars, "k")
	assert.Equal(t, "fresh", cached)
	assert.Equal(t, int64(1), e.reg.Get(metrics.RefreshSuccessTotal))
}

func TestRun_RefreshFailure(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", "stale", time.Minute)

	var calls int32
	refreshed := 0
	errorHooks := 0

	v, err := New(e.rt, failing[string](&calls, errUnavailable)).
		CacheIn(e.scalars, "k", time.Minute).
		RefreshIfCached(context.Background(), func(string) { refreshed++ }).
		OnError(func(error) { errorHooks++ }).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "stale", v)

	e.drainUntil(t, func() bool { return e.reg.Get(metrics.RefreshFailureTotal) == 1 })
	assert.Zero(t, refreshed)
	assert.Zero(t, errorHooks)

	cached, _ := cache.Get[string](e.scalars, "k")
	assert.Equal(t, "stale", cached)
}

func TestRun_RefreshScopeCanceled(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", "stale", time.Minute)

	refreshCtx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	refreshed := 0

	_, err := New(e.rt, func(context.Context) (string, error) {
		close(started)
		<-release
		return "fresh", nil
	}).
		CacheIn(e.scalars, "k", time.Minute).
		RefreshIfCached(refreshCtx, func(string) { refreshed++ }).
		Execute(context.Background())
	require.NoError(t, err)

	<-started
	cancel()
	close(release)

	e.drainUntil(t, func() bool {
		return e.reg.Get(metrics.RefreshDiscardedTotal)+e.reg.Get(metrics.RefreshFailureTotal) == 1
	})
	assert.Zero(t, refreshed)
	cached, _ := cache.Get[string](e.scalars, "k")
	assert.Equal(t, "stale", cached)
}

func TestRun_RefreshIgnoresCallerContext(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", "stale", time.Minute)

	callerCtx, cancel := context.WithCancel(context.Background())
	var refreshed atomic.Value

	_, err := New(e.rt, constant("fresh")).
		CacheIn(e.scalars, "k", time.Minute).
		RefreshIfCached(context.Background(), func(v string) { refreshed.Store(v) }).
		Execute(callerCtx)
	require.NoError(t, err)
	cancel()

	e.drainUntil(t, func() bool { return refreshed.Load() != nil })
	assert.Equal(t, "fresh", refreshed.Load())
}

/* ---------------- async ---------------- */

func TestExecuteAsync_ContinuesOnDispatcher(t *testing.T) {
	e := newEnv(t)
	var completed int32
	started := 0

	type result struct {
		v   int
		err error
	}
	var got []result

	New(e.rt, constant(5)).
		OnStart(func() { started++ }).
		OnComplete(func(int) { atomic.AddInt32(&completed, 1) }).
		ExecuteAsync(context.Background(), func(v int, err error) { got = append(got, result{v, err}) })

	assert.Equal(t, 1, started, "start hooks run on the caller")

	require.Eventually(t, func() bool { return e.disp.Len() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&completed), "nothing completes until the dispatcher drains")

	e.disp.Drain()
	assert.Equal(t, int32(1), atomic.LoadInt32(&completed))
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].v)
	assert.NoError(t, got[0].err)
}

func TestExecuteAsync_CacheHitCompletesInline(t *testing.T) {
	e := newEnv(t)
	e.scalars.Set("k", 7, time.Minute)

	got := -1
	New(e.rt, constant(1)).
		CacheIn(e.scalars, "k", time.Minute).
		ExecuteAsync(context.Background(), func(v int, err error) { got = v })

	assert.Equal(t, 7, got)
	assert.Zero(t, e.disp.Len())
}

func TestExecuteAsync_Errors(t *testing.T) {
	t.Run("Propagated", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		var gotErr error
		done := false

		New(e.rt, failing[int](&calls, errUnavailable)).
			ExecuteAsync(context.Background(), func(_ int, err error) { gotErr, done = err, true })

		e.drainUntil(t, func() bool { return done })
		assert.ErrorIs(t, gotErr, errUnavailable)
	})

	t.Run("Suppressed", func(t *testing.T) {
		e := newEnv(t)
		var calls int32
		var hookErr error
		done := false

		New(e.rt, failing[int](&calls, errUnavailable)).
			OnError(func(err error) { hookErr = err }).
			ExecuteAsync(context.Background(), func(_ int, err error) {
				assert.NoError(t, err)
				done = true
			})

		e.drainUntil(t, func() bool { return done })
		assert.ErrorIs(t, hookErr, errUnavailable)
	})

	t.Run("Canceled", func(t *testing.T) {
		e := newEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var gotErr error
		done := false
		New(e.rt, constant(1)).
			ExecuteAsync(ctx, func(_ int, err error) { gotErr, done = err, true })

		e.drainUntil(t, func() bool { return done })
		assert.ErrorIs(t, gotErr, context.Canceled)
	})

	t.Run("PoolClosed", func(t *testing.T) {
		e := newEnv(t)
		e.rt.Pool.Close()

		var gotErr error
		done := false
		New(e.rt, constant(1)).
			ExecuteAsync(context.Background(), func(_ int, err error) { gotErr, done = err, true })

		e.drainUntil(t, func() bool { return done })
		assert.ErrorIs(t, gotErr, worker.ErrClosed)
	})

	t.Run("PoolClosedWithErrorHook", func(t *testing.T) {
		e := newEnv(t)
		e.rt.Pool.Close()

		var hookErr, gotErr error
		completed, done := 0, false
		New(e.rt, constant(1)).
			OnError(func(err error) { hookErr = err }).
			OnComplete(func(v int) { completed++ }).
			ExecuteAsync(context.Background(), func(v int, err error) {
				gotErr, done = err, true
				assert.Zero(t, v)
			})

		e.drainUntil(t, func() bool { return done })
		assert.NoError(t, gotErr)
		assert.ErrorIs(t, hookErr, worker.ErrClosed)
		assert.Equal(t, 1, completed)
		assert.Equal(t, int64(1), e.reg.Get(metrics.PipelineSuppressedTotal))
	})
}

func TestExecuteAsync_WithRunningDispatcher(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.disp.Run(ctx)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sum := 0
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		n := i
		require.NoError(t, e.disp.Call(ctx, func() {
			New(e.rt, constant(n)).ExecuteAsync(ctx, func(v int, _ error) {
				mu.Lock()
				sum += v
				mu.Unlock()
				wg.Done()
			})
		}))
	}
	wg.Wait()
	assert.Equal(t, 55, sum)
}

func TestAwait(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.disp.Run(ctx)

	t.Run("Value", func(t *testing.T) {
		v, err := New(e.rt, constant(7)).Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("Error", func(t *testing.T) {
		var calls int32
		_, err := New(e.rt, failing[int](&calls, errUnavailable)).Await(ctx)
		assert.ErrorIs(t, err, errUnavailable)
	})

	t.Run("CallerGivesUp", func(t *testing.T) {
		short, stop := context.WithTimeout(ctx, 10*time.Millisecond)
		defer stop()
		release := make(chan struct{})
		defer close(release)

		_, err := New(e.rt, func(context.Context) (int, error) {
			<-release
			return 1, nil
		}).Await(short)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

/* ---------------- builder ---------------- */

func TestBuilder_ValueSemantics(t *testing.T) {
	e := newEnv(t)
	var events []string

	base := New(e.rt, constant(1)).OnComplete(func(int) { events = append(events, "base") })
	left := base.OnComplete(func(int) { events = append(events, "left") })
	right := base.OnComplete(func(int) { events = append(events, "right") })

	_, _ = right.Execute(context.Background())
	assert.Equal(t, []string{"base", "right"}, events)

	events = nil
	_, _ = left.Execute(context.Background())
	assert.Equal(t, []string{"base", "left"}, events)

	events = nil
	_, _ = base.Execute(context.Background())
	assert.Equal(t, []string{"base"}, events)
}

func TestBuilder_Resets(t *testing.T) {
	e := newEnv(t)
	var calls int32
	e.scalars.Set("k", 1, time.Minute)

	p := New(e.rt, failing[int](&calls, errUnavailable)).
		Retry(3, time.Millisecond).
		Fallback(constant(2)).
		CacheIn(e.scalars, "k", time.Minute)

	r := p.NoCache().NoFallback().NoRetry().Run(context.Background())
	assert.Equal(t, Propagated, r.Outcome)
	assert.Equal(t, int32(1), calls)

	r = p.Run(context.Background())
	assert.Equal(t, Cached, r.Outcome, "resets did not touch the original")
}

func TestBuilder_Misuse(t *testing.T) {
	e := newEnv(t)
	p := New(e.rt, constant(1))

	assertMisuse(t, "RetryIf", func() { p.RetryIf(func(error) bool { return true }) })
	assertMisuse(t, "RetryWhen", func() { RetryWhen[*statusError](p, nil) })
	assertMisuse(t, "FallbackIf", func() { p.FallbackIf(func(error) bool { return true }) })
	assertMisuse(t, "FallbackWhen", func() { FallbackWhen[*statusError](p, nil) })
	assertMisuse(t, "CacheTTL", func() { p.CacheTTL(time.Second) })
	assertMisuse(t, "Fresh", func() { p.Fresh() })
	assertMisuse(t, "RefreshIfCached", func() { p.RefreshIfCached(context.Background(), func(int) {}) })
	assertMisuse(t, "New", func() { New[int](nil, constant(1)) })
	assertMisuse(t, "New", func() { New[int](e.rt, nil) })
	assertMisuse(t, "CacheIn", func() { p.CacheIn(nil, "k", time.Second) })
}

func TestNewAction(t *testing.T) {
	e := newEnv(t)
	ran := false

	_, err := NewAction(e.rt, func(context.Context) error {
		ran = true
		return nil
	}).Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	_, err = NewAction(e.rt, func(context.Context) error { return errUnavailable }).
		Execute(context.Background())
	assert.ErrorIs(t, err, errUnavailable)
}

func TestExecution_LogsCarryName(t *testing.T) {
	e := newEnv(t)
	var calls int32

	_, _ = New(e.rt, failing[int](&calls, errUnavailable)).
		Named("catalog").
		Execute(context.Background())

	entries := e.logger.GetLast(10)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, logs.WARN, last.Level)
	assert.Equal(t, "catalog", last.Component)
	assert.Contains(t, last.Message, "failed")
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "fallen_back", FallenBack.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
