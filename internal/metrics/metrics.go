package metrics

import (
	"sync"
	"sync/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Pipeline
	PipelineExecutionsTotal MetricKey = "pipeline_executions_total"
	PipelineAttemptsTotal   MetricKey = "pipeline_attempts_total"
	PipelineRetriesTotal    MetricKey = "pipeline_retries_total"
	PipelineSuccessTotal    MetricKey = "pipeline_success_total"
	PipelineFallbacksTotal  MetricKey = "pipeline_fallbacks_total"
	PipelineSuppressedTotal MetricKey = "pipeline_suppressed_total"
	PipelineErrorsTotal     MetricKey = "pipeline_errors_total"
	PipelineCanceledTotal   MetricKey = "pipeline_canceled_total"

	// Cache lookups done by pipelines
	CacheHitsTotal   MetricKey = "cache_hits_total"
	CacheMissesTotal MetricKey = "cache_misses_total"
	CacheWritesTotal MetricKey = "cache_writes_total"

	// Background refresh
	RefreshScheduledTotal MetricKey = "refresh_scheduled_total"
	RefreshSuccessTotal   MetricKey = "refresh_success_total"
	RefreshFailureTotal   MetricKey = "refresh_failure_total"
	RefreshDiscardedTotal MetricKey = "refresh_discarded_total"

	// Dispatcher
	DispatchEnqueuedTotal MetricKey = "dispatch_enqueued_total"
	DispatchExecutedTotal MetricKey = "dispatch_executed_total"
	DispatchPanicsTotal   MetricKey = "dispatch_panics_total"

	// Worker pool
	WorkerJobsTotal    MetricKey = "worker_jobs_total"
	WorkerSkippedTotal MetricKey = "worker_skipped_total"
	WorkerPanicsTotal  MetricKey = "worker_panics_total"

	// Repository
	RepositoryEntitiesUpdatedTotal MetricKey = "repository_entities_updated_total"
	RepositoryInvalidationsTotal   MetricKey = "repository_invalidations_total"

	// TTL sweeper
	TTLSweepRunsTotal      MetricKey = "ttl_sweep_runs_total"
	TTLEntriesRemovedTotal MetricKey = "ttl_entries_removed_total"
)

// Registry stores all metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[MetricKey]*atomic.Int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[MetricKey]*atomic.Int64),
	}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Add increments a metric by delta. A nil registry is a no-op so
// components can run without metrics wired.
func (r *Registry) Add(key MetricKey, delta int64) {
	if r == nil {
		return
	}
	r.counter(key).Add(delta)
}

// Get returns the current value of key.
func (r *Registry) Get(key MetricKey) int64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

func (r *Registry) counter(key MetricKey) *atomic.Int64 {
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[key]; ok {
		return c
	}
	c = new(atomic.Int64)
	r.counters[key] = c
	return c
}
