package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the engine's Prometheus collectors on a private
// registry so multiple managers can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Connected     *prometheus.GaugeVec
	LinesReceived *prometheus.CounterVec
	LinesSent     *prometheus.CounterVec
	SendsDropped  *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	HandlerPanics *prometheus.CounterVec
}

// NewMetrics builds the collector set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		Connected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ircbot_connected",
				Help: "Whether the connection to a server is currently established",
			},
			[]string{"server"},
		),
		LinesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircbot_lines_received_total",
				Help: "Lines received from a server",
			},
			[]string{"server"},
		),
		LinesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircbot_lines_sent_total",
				Help: "Lines written to a server",
			},
			[]string{"server"},
		),
		SendsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircbot_sends_dropped_total",
				Help: "Outbound lines dropped by the rate limiter or a dead connection",
			},
			[]string{"server"},
		),
		Reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircbot_reconnects_total",
				Help: "Reconnection attempts per server",
			},
			[]string{"server"},
		),
		HandlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ircbot_handler_panics_total",
				Help: "Panics recovered from event handlers",
			},
			[]string{"server", "event"},
		),
	}
}
