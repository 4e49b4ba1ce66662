package health

import "fluent-cache/internal/metrics"

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// threshold builds a rule that triggers once key exceeds limit.
func threshold(key metrics.MetricKey, limit int64, severity Status, signal, recommendation string) Rule {
	return func(snapshot map[string]int64) RuleResult {
		if snapshot[string(key)] <= limit {
			return RuleResult{}
		}
		return RuleResult{
			Triggered:      true,
			Signal:         signal,
			Recommendation: recommendation,
			Severity:       severity,
		}
	}
}

// ---------- RULES ----------

// Retries mean producers are flaky.
var RetryRule = threshold(metrics.PipelineRetriesTotal, 0, StatusDegraded,
	"Pipeline retries detected",
	"Check backend latency and error rates")

// Fallbacks mean callers are seeing substitute data.
var FallbackRule = threshold(metrics.PipelineFallbacksTotal, 0, StatusDegraded,
	"Pipelines are serving fallback results",
	"Inspect producer failures behind the fallbacks")

// Propagated errors reached callers unhandled.
var PropagatedErrorRule = threshold(metrics.PipelineErrorsTotal, 0, StatusDegraded,
	"Pipeline errors propagated to callers",
	"Add fallbacks or error hooks, or fix the failing producers")

// Failed refreshes leave stale data in the caches.
var RefreshFailureRule = threshold(metrics.RefreshFailureTotal, 0, StatusDegraded,
	"Background refreshes are failing",
	"Cached values are going stale; check the refresh producers")

// Panics in the dispatcher break continuations.
var DispatchPanicRule = threshold(metrics.DispatchPanicsTotal, 0, StatusCritical,
	"Dispatched callbacks panicked",
	"Inspect hook and callback code run on the dispatcher")

var WorkerPanicRule = threshold(metrics.WorkerPanicsTotal, 0, StatusCritical,
	"Worker jobs panicked",
	"Inspect producers for unhandled panics")

// BacklogRule flags a dispatcher that is not keeping up.
func BacklogRule(limit int64) Rule {
	return func(snapshot map[string]int64) RuleResult {
		backlog := snapshot[string(metrics.DispatchEnqueuedTotal)] -
			snapshot[string(metrics.DispatchExecutedTotal)] -
			snapshot[string(metrics.DispatchPanicsTotal)]
		if backlog <= limit {
			return RuleResult{}
		}
		return RuleResult{
			Triggered:      true,
			Signal:         "Dispatcher backlog is growing",
			Recommendation: "Make sure the owner loop drains often enough",
			Severity:       StatusDegraded,
		}
	}
}
