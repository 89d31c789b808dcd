package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry is shared by the API and the healing worker.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		StageDuration, StageOutcomes,
		AdapterCallDuration, BreakerState,
		QuotaRejections, DedupeRejections,
		JobTotal, TasksInFlight, HealingRuns,
	)
}

// StageDuration is the time a stage took including retries and backoff.
var StageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mealgen_stage_duration_seconds",
		Help:    "Stage duration including retries, in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"stage"},
)

// StageOutcomes counts stage attempts by normalized status.
var StageOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mealgen_stage_outcome_total",
		Help: "Stage attempts by status.",
	},
	[]string{"stage", "status"}, // ok | retryable | fatal | exhausted | short_circuited
)

// AdapterCallDuration observes every external invocation.
var AdapterCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mealgen_adapter_call_duration_seconds",
		Help:    "External adapter call latency, in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"adapter", "status"},
)

// BreakerState is 0 closed, 1 half-open, 2 open.
var BreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "mealgen_breaker_state",
		Help: "Circuit breaker state per adapter (0 closed, 1 half-open, 2 open).",
	},
	[]string{"adapter"},
)

var QuotaRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mealgen_quota_rejections_total",
		Help: "Submissions rejected by the quota ledger.",
	},
	[]string{"resource"},
)

var DedupeRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mealgen_dedupe_rejections_total",
		Help: "Images rejected as near duplicates.",
	},
	[]string{"scope"},
)

// JobTotal counts jobs reaching a terminal status.
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mealgen_job_total",
		Help: "Finished jobs by status.",
	},
	[]string{"status"},
)

var TasksInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "mealgen_tasks_in_flight",
		Help: "Item tasks currently owned by a worker.",
	},
)

var HealingRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mealgen_healing_runs_total",
		Help: "Healing sweeps by kind and result.",
	},
	[]string{"kind", "result"},
)

// Handler exposes DefaultRegistry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
