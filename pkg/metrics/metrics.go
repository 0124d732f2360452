// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CompletionDuration tracks backend completion latency.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_duration_seconds",
			Help:    "Completion backend response duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model", "status"},
	)

	// CompletionTokensTotal tracks tokens reported by the backend.
	CompletionTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_tokens_total",
			Help: "Total completion tokens processed",
		},
		[]string{"model", "direction"},
	)

	// CompletionQueueRejected counts dispatches refused because a handle queue was full.
	CompletionQueueRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "completion_queue_rejected_total",
			Help: "Dispatches rejected because the request queue was full",
		},
	)

	// SessionsActive tracks live conversation sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of live conversation sessions",
		},
	)

	// MessagesTotal tracks messages appended to histories.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended to conversation histories",
		},
		[]string{"character", "role"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SSEEventsDropped counts list events dropped for slow SSE subscribers.
	SSEEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sse_events_dropped_total",
			Help: "List events dropped for slow subscribers",
		},
	)

	// JournalPublishErrors counts failed journal publishes.
	JournalPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_publish_errors_total",
			Help: "Messages that could not be published to the journal",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for one backend completion.
func RecordCompletion(model, status string, duration float64, tokensIn, tokensOut int) {
	CompletionDuration.WithLabelValues(model, status).Observe(duration)
	CompletionTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	CompletionTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordMessage counts one appended message.
func RecordMessage(character, role string) {
	MessagesTotal.WithLabelValues(character, role).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
