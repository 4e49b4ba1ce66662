// Package dispatch runs callbacks on a single owner goroutine.
//
// Any goroutine may Enqueue; exactly one goroutine drains, either by
// calling Drain from its own loop or by running Run.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
)

// Dispatcher is a FIFO queue of callbacks drained by one owner goroutine.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}

	tick    time.Duration
	logger  *logs.Logger
	metrics *metrics.Registry
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *logs.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(d *Dispatcher) { d.metrics = r }
}

// WithTick makes Run also drain on a fixed interval, the way a frame
// loop would.
func WithTick(interval time.Duration) Option {
	return func(d *Dispatcher) { d.tick = interval }
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{notify: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue schedules fn to run on the owner goroutine. It never blocks.
func (d *Dispatcher) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	d.metrics.Inc(metrics.DispatchEnqueuedTotal)

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending callbacks.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Drain runs every pending callback in FIFO order, including ones enqueued
// while draining, and returns how many ran.
func (d *Dispatcher) Drain() int {
	ran := 0
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			d.run(fn)
			ran++
		}
	}
}

// Run drains until ctx is done, then drains once more so callbacks queued
// before the stop still run. It blocks.
func (d *Dispatcher) Run(ctx context.Context) {
	var tick <-chan time.Time
	if d.tick > 0 {
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-d.notify:
			d.Drain()
		case <-tick:
			d.Drain()
		case <-ctx.Done():
			n := d.Drain()
			d.logger.Debugf("dispatcher stopped, %d callbacks drained on exit", n)
			return
		}
	}
}

// Call runs fn on the owner goroutine and waits for it to finish.
// It returns ctx.Err() if ctx ends first; fn may still run later.
func (d *Dispatcher) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	d.Enqueue(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Inc(metrics.DispatchPanicsTotal)
			d.logger.Error(fmt.Sprintf("panic recovered in dispatched callback: %v", r))
		}
	}()
	fn()
	d.metrics.Inc(metrics.DispatchExecutedTotal)
}
