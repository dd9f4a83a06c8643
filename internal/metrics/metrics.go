// Package metrics exposes orchestrator and pipeline observability as
// Prometheus gauges/histograms/counters, served over HTTP by the pipeline
// daemon's metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// TaskDuration records wall-clock time per agent invocation, labeled by
// outcome so slow failures are distinguishable from slow successes.
var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "foreman",
		Subsystem: "orchestrator",
		Name:      "task_duration_seconds",
		Help:      "Duration of a single agent invocation, by outcome.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	},
	[]string{"outcome"},
)

// BreakerState is 1 while the circuit breaker is open (cooldown), 0
// otherwise.
var BreakerState = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "foreman",
		Subsystem: "orchestrator",
		Name:      "breaker_open",
		Help:      "1 if the circuit breaker is currently open, 0 otherwise.",
	},
)

// VerificationCycles counts pipeline verify-retry cycles, labeled by
// verdict.
var VerificationCycles = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "foreman",
		Subsystem: "pipeline",
		Name:      "verification_cycles_total",
		Help:      "Count of verification cycles run, by verdict.",
	},
	[]string{"verdict"},
)

// WorkItemsArchived counts successful archive operations, labeled by
// work item type.
var WorkItemsArchived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "foreman",
		Subsystem: "pipeline",
		Name:      "workitems_archived_total",
		Help:      "Count of work items moved to the archive, by type.",
	},
	[]string{"type"},
)

// Registry is the registry every collector above is registered to; the
// daemon's metrics HTTP endpoint serves this rather than the global
// default registry, so tests can construct a private one.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(TaskDuration, BreakerState, VerificationCycles, WorkItemsArchived)
}
