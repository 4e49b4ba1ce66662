package health

import (
	"strings"

	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
)

// DefaultBacklogLimit is the dispatcher backlog tolerated before degrading.
const DefaultBacklogLimit = 100

// Analyzer converts metrics + logs into a health report.
type Analyzer struct {
	metrics *metrics.Registry
	logger  *logs.Logger
	rules   []Rule
}

// NewAnalyzer creates an analyzer with the default rules plus extra.
func NewAnalyzer(reg *metrics.Registry, logger *logs.Logger, extra ...Rule) *Analyzer {
	rules := []Rule{
		RetryRule,
		FallbackRule,
		PropagatedErrorRule,
		RefreshFailureRule,
		DispatchPanicRule,
		WorkerPanicRule,
		BacklogRule(DefaultBacklogLimit),
	}
	return &Analyzer{
		metrics: reg,
		logger:  logger,
		rules:   append(rules, extra...),
	}
}

// Analyze evaluates metrics and logs and returns a health report.
func (a *Analyzer) Analyze() Report {
	snapshot := a.metrics.Snapshot()

	var (
		signals         = []string{}
		recommendations = []string{}
		status          = StatusOK
	)

	escalate := func(s Status) {
		if s == StatusCritical {
			status = StatusCritical
		} else if s == StatusDegraded && status == StatusOK {
			status = StatusDegraded
		}
	}

	/* ---------- METRICS-BASED RULES ---------- */

	for _, rule := range a.rules {
		result := rule(snapshot)
		if !result.Triggered {
			continue
		}
		signals = append(signals, result.Signal)
		recommendations = append(recommendations, result.Recommendation)
		escalate(result.Severity)
	}

	/* ---------- LOG-BASED SIGNALS ---------- */

	refreshFailures := 0
	panicCount := 0

	for _, entry := range a.logger.GetLast(100) {
		if entry.Level == logs.WARN && strings.Contains(entry.Message, "refresh failed") {
			refreshFailures++
		}
		if entry.Level == logs.ERROR && strings.Contains(entry.Message, "panic") {
			panicCount++
		}
	}

	if refreshFailures >= 3 {
		signals = append(signals, "Repeated refresh failures detected in logs")
		recommendations = append(recommendations, "Investigate backend availability for refreshed queries")
		escalate(StatusDegraded)
	}

	if panicCount > 0 {
		signals = append(signals, "Application panics detected in logs")
		recommendations = append(recommendations, "Inspect stack traces and stabilize error handling")
		escalate(StatusCritical)
	}

	/* ---------- SUMMARY ---------- */

	summary := "System is healthy"
	if status != StatusOK {
		summary = "System health issues detected"
	}

	return Report{
		OverallStatus:   status,
		Summary:         summary,
		Signals:         signals,
		Recommendations: recommendations,
	}
}
