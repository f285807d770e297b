// Package metrics provides Prometheus instrumentation for the board
// server. It exposes gauges for sessions and history size, counters for
// event throughput, and a histogram for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the number of open WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inkboard_ws_connections",
		Help: "Current number of open WebSocket connections",
	})

	// MessagesReceived counts client messages by type ("draw", "clear",
	// "ping", or "invalid" for frames that could not be parsed).
	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inkboard_ws_messages_received_total",
		Help: "Total number of client messages received",
	}, []string{"type"})

	// SessionsActive tracks the number of sessions in the fan-out set.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inkboard_sessions_active",
		Help: "Current number of active board sessions",
	})

	// HistoryEvents tracks the number of events in the board history.
	HistoryEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inkboard_history_events",
		Help: "Current number of events in the board history",
	})

	// EventsAccepted counts appended events by kind ("segment", "text").
	EventsAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inkboard_events_accepted_total",
		Help: "Total number of draw events appended to history",
	}, []string{"kind"})

	// EventsRejected counts refused operations by reason code.
	EventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inkboard_events_rejected_total",
		Help: "Total number of refused draw or clear operations",
	}, []string{"reason"}) // reason = "invalid_event", "rate_limited", ...

	// Clears counts accepted board clears.
	Clears = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inkboard_clears_total",
		Help: "Total number of board clears",
	})

	// SessionsDropped counts sessions removed by the server, labeled by
	// cause: "transport" (write failed) or "overflow" (send queue full).
	SessionsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inkboard_sessions_dropped_total",
		Help: "Total number of sessions dropped by the broadcaster",
	}, []string{"cause"})

	// FanoutLatency records how long one draw takes from validation to
	// being queued for every recipient.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inkboard_fanout_latency_seconds",
		Help:    "Time to append and queue one event for all sessions",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		MessagesReceived,
		SessionsActive,
		HistoryEvents,
		EventsAccepted,
		EventsRejected,
		Clears,
		SessionsDropped,
		FanoutLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
