// Package metrics provides Prometheus instrumentation for the chat client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceived counts decoded inbound socket frames by type.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_frames_received_total",
			Help: "Inbound WebSocket frames by type",
		},
		[]string{"type"},
	)

	// FramesSent counts outbound socket frames by type.
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_frames_sent_total",
			Help: "Outbound WebSocket frames by type",
		},
		[]string{"type"},
	)

	// MalformedFrames counts inbound frames that failed to decode.
	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_malformed_frames_total",
			Help: "Inbound WebSocket frames that were not valid JSON",
		},
	)

	// ReconnectAttempts counts scheduled reconnection attempts.
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_reconnect_attempts_total",
			Help: "Scheduled WebSocket reconnection attempts",
		},
	)

	// ReconnectExhausted counts sessions that gave up reconnecting.
	ReconnectExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_reconnect_exhausted_total",
			Help: "Times the transport gave up after the maximum reconnection attempts",
		},
	)

	// ConnectionState exposes the current transport state as a numeric gauge.
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connection_state",
			Help: "Transport state (0 disconnected, 1 connecting, 2 open, 3 reconnecting, 4 closing)",
		},
	)

	// APIRequestDuration tracks REST call duration.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_api_request_duration_seconds",
			Help:    "REST request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op", "status"},
	)

	// ChatSessionsActive tracks open chat sessions.
	ChatSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of started, not yet closed chat sessions",
		},
	)
)

// RecordAPIRequest records one REST call.
func RecordAPIRequest(op, status string, seconds float64) {
	APIRequestDuration.WithLabelValues(op, status).Observe(seconds)
}
