// Package metrics exposes Prometheus instrumentation for the build
// cycle. Invocations are short-lived, so metrics are pushed into the
// step summary log rather than scraped; the registry form keeps tests
// isolated.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the agent records.
type Metrics struct {
	// Rounds counts invocations by the phase they executed.
	Rounds *prometheus.CounterVec

	// ModelCalls counts completion attempts by provider and outcome.
	ModelCalls *prometheus.CounterVec

	// ModelLatency observes completion latency by provider.
	ModelLatency *prometheus.HistogramVec

	// ToolExecutions counts tool runs by tool name and outcome.
	ToolExecutions *prometheus.CounterVec

	// ParseStrategyHits counts which recovery strategy produced each
	// parsed command. The "none" strategy label records parse misses.
	ParseStrategyHits *prometheus.CounterVec

	// Finalizations counts terminal outcomes by result.
	Finalizations *prometheus.CounterVec

	// SafetyViolations counts limiter trips by limit name.
	SafetyViolations *prometheus.CounterVec

	// Errors counts coded errors.
	Errors *prometheus.CounterVec
}

// New registers all metrics on the given registerer.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Rounds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowd_agent_rounds_total",
				Help: "Total invocations by executed phase",
			},
			[]string{"phase"},
		),
		ModelCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowd_agent_model_calls_total",
				Help: "Total completion attempts",
			},
			[]string{"provider", "success"},
		),
		ModelLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crowd_agent_model_latency_seconds",
				Help:    "Completion call latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"provider"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowd_agent_tool_executions_total",
				Help: "Total tool executions",
			},
			[]string{"tool", "success"},
		),
		ParseStrategyHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowd_agent_parse_strategy_hits_total",
				Help: "Commands recovered per parser strategy",
			},
			[]string{"strategy"},
		),
		Finalizations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowd_agent_finalizations_total",
				Help: "Terminal build outcomes",
			},
			[]string{"outcome"},
		),
		SafetyViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowd_agent_safety_violations_total",
				Help: "Safety limiter trips by limit",
			},
			[]string{"limit"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowd_agent_errors_total",
				Help: "Errors by stable error code",
			},
			[]string{"code"},
		),
	}
}

// NewRegistry returns a fresh registry with metrics attached.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}
