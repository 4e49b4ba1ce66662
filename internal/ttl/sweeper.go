package ttl

import (
	"context"
	"time"

	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
)

// Target is anything holding lazily expired entries.
type Target interface {
	RemoveExpired() int
}

// Scheduler runs a callback on the goroutine that owns the targets.
type Scheduler interface {
	Enqueue(fn func())
}

// Sweeper periodically drops expired entries so TTL also bounds memory.
type Sweeper struct {
	targets   []Target
	interval  time.Duration
	scheduler Scheduler
	logger    *logs.Logger
	metrics   *metrics.Registry
}

// NewSweeper creates a sweeper. When scheduler is nil sweeps run on the
// sweeper's own goroutine.
func NewSweeper(
	interval time.Duration,
	scheduler Scheduler,
	logger *logs.Logger,
	reg *metrics.Registry,
	targets ...Target,
) *Sweeper {
	return &Sweeper{
		targets:   targets,
		interval:  interval,
		scheduler: scheduler,
		logger:    logger,
		metrics:   reg,
	}
}

// Start runs the sweep loop until the context is cancelled.
// It blocks and should typically be run in a separate goroutine.
// A non-positive interval disables sweeping.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Warnf("ttl sweeper disabled: interval %s", s.interval)
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.scheduler != nil {
				s.scheduler.Enqueue(s.runOnce)
			} else {
				s.runOnce()
			}
		case <-ctx.Done():
			s.logger.Debug("ttl sweeper stopped")
			return
		}
	}
}

// runOnce performs a single sweep over every target
func (s *Sweeper) runOnce() {
	s.metrics.Inc(metrics.TTLSweepRunsTotal)

	removed := 0
	for _, t := range s.targets {
		removed += t.RemoveExpired()
	}
	if removed > 0 {
		s.metrics.Add(metrics.TTLEntriesRemovedTotal, int64(removed))
		s.logger.Infof("ttl sweeper removed %d expired entries", removed)
	}
}
