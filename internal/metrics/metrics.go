package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_llm_requests_total",
			Help: "LLM gateway calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbot_llm_request_duration_seconds",
			Help:    "LLM gateway call duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	LLMRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbot_llm_retries_total",
			Help: "Retried LLM calls after transient provider failures",
		},
	)

	// Memory metrics
	CompressionPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_memory_compression_passes_total",
			Help: "Rolling history compression passes by outcome",
		},
		[]string{"outcome"},
	)

	// Chat metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_turns_total",
			Help: "Chat turns by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbot_realtime_connections",
			Help: "Currently registered realtime connections",
		},
	)
)
