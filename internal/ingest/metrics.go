package ingest

import "github.com/prometheus/client_golang/prometheus"

// Point outcomes.
const (
	outcomeApplied = "applied"
	outcomeDropped = "dropped"
)

// Metrics counts ingested messages and points.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	messages *prometheus.CounterVec
	points   *prometheus.CounterVec
}

// NewMetrics creates ingest metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsegw",
				Subsystem: "ingest",
				Name:      "messages_total",
				Help:      "Value batch messages received, by outcome.",
			},
			[]string{"outcome"},
		),
		points: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsegw",
				Subsystem: "ingest",
				Name:      "points_total",
				Help:      "Point values received, by outcome.",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.messages, m.points)
	return m
}

func (m *Metrics) message(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) point(outcome string) {
	if m == nil {
		return
	}
	m.points.WithLabelValues(outcome).Inc()
}
