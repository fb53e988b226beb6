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

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsStarted tracks conversations registered with the mediator.
	ConversationsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_started_total",
			Help: "Total conversations started",
		},
		[]string{"operation"},
	)

	// ConversationsFinished tracks conversations reaching a terminal state.
	ConversationsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_finished_total",
			Help: "Total conversations finished, by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// ConversationsActive tracks conversations currently registered with the mediator.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversations_active",
			Help: "Number of in-flight conversations",
		},
	)

	// ConversationDuration tracks the time from start to terminal event.
	ConversationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_duration_seconds",
			Help:    "Conversation duration from identify request to terminal event",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 300, 1800},
		},
		[]string{"operation", "outcome"},
	)

	// ContributorEvents tracks per-contributor events raised by conversations.
	ContributorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_contributor_events_total",
			Help: "Per-contributor conversation events",
		},
		[]string{"operation", "type"},
	)

	// BusMessagesSent tracks messages handed to the transport.
	BusMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_sent_total",
			Help: "Messages sent on the message bus",
		},
		[]string{"kind"},
	)

	// BusMessagesDropped tracks inbound messages that could not be delivered to a conversation.
	BusMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_dropped_total",
			Help: "Inbound messages dropped by the mediator or transport",
		},
		[]string{"reason"},
	)

	// AlarmsPublished tracks alarms written to the alarm stream.
	AlarmsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarms_published_total",
			Help: "Alarms published for failed operations",
		},
		[]string{"operation"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordConversationStarted records a newly registered conversation.
func RecordConversationStarted(operation string) {
	ConversationsStarted.WithLabelValues(operation).Inc()
	ConversationsActive.Inc()
}

// RecordConversationFinished records a conversation leaving the mediator.
func RecordConversationFinished(operation, outcome string, duration float64) {
	ConversationsFinished.WithLabelValues(operation, outcome).Inc()
	ConversationDuration.WithLabelValues(operation, outcome).Observe(duration)
	ConversationsActive.Dec()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
