package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy controls how a failing call is retried.
type Policy struct {
	MaxAttempts int           // total calls, including the first
	BaseBackoff time.Duration // wait after the first failure
	MaxBackoff  time.Duration // upper bound on the computed wait; 0 means none
	JitterFn    func(time.Duration) time.Duration

	// Retryable filters errors. When it is nil every error is retried.
	Retryable func(error) bool

	// OnRetry is told about each failure that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Backoff returns the wait after the n-th failure (n starts at 1):
// base * 2^(n-1), capped at MaxBackoff, plus jitter.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseBackoff
	for i := 1; i < n; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.JitterFn != nil {
		d += p.JitterFn(d)
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// IsCanceled reports whether err means the caller gave up, as opposed to
// the operation failing.
func IsCanceled(ctx context.Context, err error) bool {
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// Do calls fn until it succeeds, the policy is exhausted, a filter rejects
// the error, or ctx ends. fn is called at most MaxAttempts times.
// Cancellation is returned immediately and never retried.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	max := policy.attempts()

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if IsCanceled(ctx, err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			return zero, err
		}
		if attempt >= max {
			return zero, err
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, err
		}

		delay := policy.Backoff(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
