// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the parley server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// StepBuckets covers the number of model calls in one turn.
var StepBuckets = []float64{1, 2, 3, 4, 5, 7, 10, 15, 20}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// StreamSubscribers tracks open websocket stream subscriptions.
	StreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_stream_subscribers_active",
			Help: "Active stream subscriptions",
		},
	)

	// StreamMessagesTotal counts stream messages by type and delivery outcome.
	StreamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_stream_messages_total",
			Help: "Stream messages published",
		},
		[]string{"type", "status"},
	)

	// TurnsTotal counts completed turns by outcome.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_turns_total",
			Help: "Conversation turns",
		},
		[]string{"status"},
	)

	// TurnSteps records the number of model calls per turn.
	TurnSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parley_turn_steps",
			Help:    "Model calls per turn",
			Buckets: StepBuckets,
		},
	)

	// CompactionsTotal counts history compactions.
	CompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_compactions_total",
			Help: "History compactions",
		},
	)

	// ProviderRequestsTotal counts requests sent to the completion backend.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_provider_requests_total",
			Help: "Completion backend requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records completion backend latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_provider_request_duration_seconds",
			Help:    "Completion backend latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// RunPollsTotal counts run status polls by observed status.
	RunPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_run_polls_total",
			Help: "Agent run status polls",
		},
		[]string{"status"},
	)

	// ToolEpisodesTotal counts required-action episodes by outcome
	// (submitted, failed, skipped).
	ToolEpisodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tool_episodes_total",
			Help: "Required-action episodes",
		},
		[]string{"outcome"},
	)

	// AgentInvocationsTotal counts agent invocations by role (single,
	// worker, interpreter) and outcome.
	AgentInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_agent_invocations_total",
			Help: "Agent invocations",
		},
		[]string{"role", "status"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamSubscribers,
		StreamMessagesTotal,
		TurnsTotal,
		TurnSteps,
		CompactionsTotal,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		RunPollsTotal,
		ToolEpisodesTotal,
		AgentInvocationsTotal,
		RateLimitRejectedTotal,
	)
}

// Status returns the outcome label for err.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
