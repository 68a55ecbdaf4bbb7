// Package metrics exposes Prometheus counters for step execution,
// resolution tiers and the plan cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stepflow"

var (
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Instructions executed, by action and outcome.",
	}, []string{"action", "outcome"})
	metricStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Time spent executing a single instruction.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"action"})
	metricTiers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolution_tier_total",
		Help:      "Which resolution tier carried out an interactive instruction.",
	}, []string{"action", "tier"})
	metricPlanCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_cache_total",
		Help:      "Plan cache lookups by result (hit, miss, error).",
	}, []string{"result"})
	metricPlanning = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "planning_duration_seconds",
		Help:      "Time spent waiting on the external planner.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Plan cache results
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// RecordStep counts an executed instruction and its latency
func RecordStep(action, outcome string, elapsed time.Duration) {
	metricSteps.WithLabelValues(action, outcome).Inc()
	if outcome != OutcomeSkipped {
		metricStepDuration.WithLabelValues(action).Observe(elapsed.Seconds())
	}
}

// RecordTier counts which tier resolved an interactive instruction
func RecordTier(action, tier string) {
	metricTiers.WithLabelValues(action, tier).Inc()
}

// RecordCache counts a plan cache lookup
func RecordCache(result string) {
	metricPlanCache.WithLabelValues(result).Inc()
}

// RecordPlanning observes a planner round trip
func RecordPlanning(elapsed time.Duration) {
	metricPlanning.Observe(elapsed.Seconds())
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
