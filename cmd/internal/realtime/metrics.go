package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the realtime plane's Prometheus instruments.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	PushesDelivered prometheus.Counter
	PushesDropped   prometheus.Counter
	Connections     prometheus.Gauge
}

// NewMetrics registers the realtime instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_fanout_events_total",
			Help: "Domain events accepted by the fanout engine, by kind.",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_fanout_events_dropped_total",
			Help: "Domain events dropped because the engine queue was full.",
		}),
		PushesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_fanout_pushes_delivered_total",
			Help: "Envelopes enqueued onto live connection send buffers.",
		}),
		PushesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_fanout_pushes_dropped_total",
			Help: "Envelopes dropped due to backpressure or closing connections.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_ws_connections",
			Help: "Currently registered websocket connections.",
		}),
	}

	reg.MustRegister(
		m.EventsPublished,
		m.EventsDropped,
		m.PushesDelivered,
		m.PushesDropped,
		m.Connections,
	)
	return m
}
