package pipeline

import (
	"runtime"

	"fluent-cache/internal/dispatch"
	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
	"fluent-cache/internal/worker"
)

// Runtime is shared by every pipeline built against it: the dispatcher that
// owns continuations, the pool that runs producers, and the ambient
// logger and metrics.
type Runtime struct {
	Dispatcher *dispatch.Dispatcher
	Pool       *worker.Pool
	Logger     *logs.Logger
	Metrics    *metrics.Registry
}

type RuntimeOption func(*Runtime)

func WithLogger(l *logs.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.Logger = l }
}

func WithMetrics(r *metrics.Registry) RuntimeOption {
	return func(rt *Runtime) { rt.Metrics = r }
}

// NewRuntime builds a runtime. A nil dispatcher or pool is replaced with a
// default one; a default dispatcher still needs an owner calling Run or
// Drain.
func NewRuntime(d *dispatch.Dispatcher, p *worker.Pool, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{Dispatcher: d, Pool: p}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.Dispatcher == nil {
		rt.Dispatcher = dispatch.New(dispatch.WithLogger(rt.Logger), dispatch.WithMetrics(rt.Metrics))
	}
	if rt.Pool == nil {
		rt.Pool = worker.New(runtime.NumCPU(), worker.WithLogger(rt.Logger), worker.WithMetrics(rt.Metrics))
	}
	return rt
}
