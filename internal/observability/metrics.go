package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus instruments.
//
// Tracked dimensions:
//   - Model invocations: latency, outcome and malformed-payload retries
//   - Tool executions: latency and outcome per tool
//   - Routing decisions, fallbacks and sticky recommendations
//   - Compaction runs and human approval outcomes
//   - Active conversations for capacity planning
type Metrics struct {
	// ModelRequests counts provider calls.
	// Labels: provider (openai|anthropic), model, status (success|error)
	ModelRequests *prometheus.CounterVec

	// ModelRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRetries counts second attempts after a malformed tool-call payload.
	// Labels: provider
	ModelRetries *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|cancelled)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool invocation latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// RoutingDecisions counts agent selections.
	// Labels: agent, mode (auto|manual)
	RoutingDecisions *prometheus.CounterVec

	// RoutingFallbacks counts invalid router answers that fell back to the
	// default agent.
	RoutingFallbacks prometheus.Counter

	// Compactions counts summary creations and extensions.
	// Labels: kind (create|extend)
	Compactions *prometheus.CounterVec

	// Approvals counts human confirmation outcomes.
	// Labels: outcome (approved|cancelled|expired)
	Approvals *prometheus.CounterVec

	// ActiveConversations gauges conversations with a turn in flight.
	ActiveConversations prometheus.Gauge
}

// NewMetrics registers all instruments with reg. Passing nil uses the default
// Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ModelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_model_requests_total",
				Help: "Total model provider calls by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shepherd_model_request_duration_seconds",
				Help:    "Model provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_model_retries_total",
				Help: "Retried model calls after a malformed tool-call payload",
			},
			[]string{"provider"},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_tool_executions_total",
				Help: "Total tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shepherd_tool_execution_duration_seconds",
				Help:    "Tool invocation latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		RoutingDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_routing_decisions_total",
				Help: "Agent selections by agent and selection mode",
			},
			[]string{"agent", "mode"},
		),

		RoutingFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shepherd_routing_fallbacks_total",
				Help: "Routing decisions that fell back to the default agent",
			},
		),

		Compactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_compactions_total",
				Help: "History compactions by kind",
			},
			[]string{"kind"},
		),

		Approvals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_approvals_total",
				Help: "Human confirmation outcomes for gated tool calls",
			},
			[]string{"outcome"},
		),

		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shepherd_active_conversations",
				Help: "Conversations with a turn currently in flight",
			},
		),
	}
}
