// Package metrics registers the Prometheus metrics used by verifygw.
// Import this package from the server entry point so every collector is
// registered before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP-level counters and histograms.
var (
	// RequestsTotal counts completed HTTP requests by route pattern, method
	// and status class ("2xx", "4xx", "5xx").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifygw_http_requests_total",
			Help: "Total number of HTTP requests served.",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verifygw_http_request_duration_seconds",
			Help:    "End-to-end HTTP request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit
	// middleware, labelled by key_type ("ip", "user").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifygw_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)

// Cache coordinator metrics.
var (
	// CacheLookups counts lookups by namespace and outcome
	// ("hit", "miss", "bypass", "read_degraded").
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifygw_cache_lookups_total",
			Help: "Cache lookups by namespace and outcome.",
		},
		[]string{"namespace", "outcome"},
	)

	// CacheErrors counts store failures absorbed by the coordinator, by
	// operation ("read", "write").
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifygw_cache_errors_total",
			Help: "Cache store failures absorbed by lookups.",
		},
		[]string{"namespace", "op"},
	)

	// FetchDuration observes how long cache-miss fetches take.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verifygw_fetch_duration_seconds",
			Help:    "Duration of fetches performed on cache miss or bypass.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"namespace", "status"},
	)
)

// Upstream provider metrics.
var (
	// ProviderErrors counts insurance provider failures by type
	// ("provider_error", "circuit_open", "auth", "timeout").
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifygw_provider_errors_total",
			Help: "Total insurance provider errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// CircuitBreakerState tracks per-provider circuit breaker state:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verifygw_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed 1=open 2=half_open).",
		},
		[]string{"provider"},
	)

	// ChatMessages counts chatbot turns by detected intent and the classifier
	// that produced it ("rules", "openai", "bedrock").
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifygw_chat_messages_total",
			Help: "Chatbot messages by intent and classifier.",
		},
		[]string{"intent", "classifier"},
	)
)
