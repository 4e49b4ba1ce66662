package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"fluent-cache/internal/pipeline"
)

// ErrSharedResultType means a shared call under the same key produced a
// value of another type.
var ErrSharedResultType = errors.New("shared call returned unexpected type")

// flights deduplicates concurrent producer calls per key. The shared call
// runs under its own context, cancelled once the last waiter has left.
type flights struct {
	mu     sync.Mutex
	group  singleflight.Group
	active map[string]*flight
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (fs *flights) join(ctx context.Context, key string) *flight {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.active == nil {
		fs.active = make(map[string]*flight)
	}
	f, ok := fs.active[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		fs.active[key] = f
	}
	f.waiters++
	return f
}

func (fs *flights) leave(key string, f *flight) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if fs.active[key] == f {
		delete(fs.active, key)
		// A cancelled call must not be joined by later callers.
		fs.group.Forget(key)
	}
}

// waiters reports how many callers wait on key.
func (fs *flights) waiters(key string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.active[key]; ok {
		return f.waiters
	}
	return 0
}

// shared deduplicates concurrent calls for the same key. A caller whose
// context ends stops waiting; the shared call keeps running while others
// wait and is cancelled when none are left.
func shared[T any](fs *flights, key string, producer pipeline.Producer[T]) pipeline.Producer[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		f := fs.join(ctx, key)
		defer fs.leave(key, f)

		ch := fs.group.DoChan(key, func() (v any, err error) {
			// singleflight re-panics on a fresh goroutine; keep panics as errors.
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%w: %v", pipeline.ErrProducerPanic, rec)
				}
			}()
			return producer(f.ctx)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return zero, res.Err
			}
			if res.Val == nil {
				return zero, nil
			}
			v, ok := res.Val.(T)
			if !ok {
				return zero, fmt.Errorf("%w: key %q: got %T, want %T", ErrSharedResultType, key, res.Val, zero)
			}
			return v, nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
