// Package worker runs background jobs with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
)

// ErrClosed is returned by Go after Close.
var ErrClosed = errors.New("worker: pool closed")

// Job is a unit of work. It receives the context it was submitted with.
type Job func(ctx context.Context)

type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	logger  *logs.Logger
	metrics *metrics.Registry
}

type Option func(*Pool)

func WithLogger(l *logs.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(p *Pool) { p.metrics = r }
}

// New creates a pool running at most size jobs at once.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{sem: semaphore.NewWeighted(int64(size))}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Go submits job without blocking. If ctx ends before a slot frees up the
// job is skipped.
func (p *Pool) Go(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.metrics.Inc(metrics.WorkerSkippedTotal)
			p.logger.Debug(fmt.Sprintf("job skipped: %v", err))
			return
		}
		defer p.sem.Release(1)

		p.run(ctx, job)
	}()
	return nil
}

// Close stops accepting jobs and waits for submitted ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.Inc(metrics.WorkerPanicsTotal)
			p.logger.Error(fmt.Sprintf("panic recovered in worker job: %v", r))
		}
	}()
	p.metrics.Inc(metrics.WorkerJobsTotal)
	job(ctx)
}
