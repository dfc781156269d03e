// Package metrics implements Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts accepted sockets
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_connections_total",
			Help: "Total number of accepted client connections",
		},
	)

	// HandshakeRejectsTotal counts rejected handshakes by reason
	HandshakeRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_handshake_rejects_total",
			Help: "Total number of rejected handshakes",
		},
		[]string{"reason"},
	)

	// PlayersOnline tracks registered players
	PlayersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ember_players_online",
			Help: "Number of players registered in the world",
		},
	)

	// PacketsDecodedTotal counts frames decoded from clients
	PacketsDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_packets_decoded_total",
			Help: "Total number of client packets decoded",
		},
	)

	// PacketsDispatchedTotal counts packets handed to a handler, by result
	PacketsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_packets_dispatched_total",
			Help: "Total number of client packets dispatched",
		},
		[]string{"result"},
	)

	// BuffersDroppedTotal counts outbound buffers refused by the send path
	BuffersDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_buffers_dropped_total",
			Help: "Total number of outbound buffers dropped after an encoding error",
		},
	)

	// BytesTotal counts socket traffic by direction
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_bytes_total",
			Help: "Total bytes moved over client sockets",
		},
		[]string{"direction"},
	)

	// DisconnectsTotal counts sessions removed, by cause
	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_disconnects_total",
			Help: "Total number of sessions disconnected",
		},
		[]string{"cause"},
	)

	// TickDurationSeconds measures the work done per cycle
	TickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ember_tick_duration_seconds",
			Help:    "Time spent processing one game cycle",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
	)

	// TickOverloadsTotal counts cycles that exceeded the cycle rate
	TickOverloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_tick_overloads_total",
			Help: "Total number of cycles that ran over the cycle rate",
		},
	)

	// TickLoadPercent is the load of the last cycle
	TickLoadPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ember_tick_load_percent",
			Help: "Load of the last game cycle as a percentage of the cycle rate",
		},
	)

	// EventsDroppedTotal counts events a subscriber's mailbox had no room for
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_events_dropped_total",
			Help: "Total number of events dropped because a subscriber fell behind",
		},
		[]string{"event", "handler"},
	)
)

// Dispatch results
const (
	ResultHandled   = "handled"
	ResultUnknown   = "unknown"
	ResultError     = "error"
	ResultRecovered = "panic"
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
