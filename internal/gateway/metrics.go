package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// Tier call outcomes recorded by Metrics.
const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeBreakerOpen = "breaker_open"
)

// Metrics holds the gateway's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can run
// without a registry in tests.
type Metrics struct {
	tierFetches      *prometheus.CounterVec
	tierLatency      *prometheus.HistogramVec
	valuesServed     *prometheus.CounterVec
	polls            prometheus.Counter
	backfilledPolls  prometheus.Counter
	subscriptions    *prometheus.CounterVec
	expansionDropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tierFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsegw",
				Name:      "tier_fetches_total",
				Help:      "Tier batch lookups by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		),
		tierLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pulsegw",
				Name:      "tier_fetch_duration_seconds",
				Help:      "Duration of tier batch lookups in seconds.",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"tier"},
		),
		valuesServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsegw",
				Name:      "values_served_total",
				Help:      "Point values returned to clients by source.",
			},
			[]string{"source"},
		),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsegw",
			Name:      "polls_total",
			Help:      "Subscription polls served.",
		}),
		backfilledPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsegw",
			Name:      "polls_backfilled_total",
			Help:      "Polls that returned backfilled values instead of changes.",
		}),
		subscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsegw",
				Name:      "subscription_events_total",
				Help:      "Subscription lifecycle events.",
			},
			[]string{"event"},
		),
		expansionDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsegw",
			Name:      "fetch_keys_dropped_total",
			Help:      "Requested keys dropped because they were malformed or foreign.",
		}),
	}

	reg.MustRegister(
		m.tierFetches,
		m.tierLatency,
		m.valuesServed,
		m.polls,
		m.backfilledPolls,
		m.subscriptions,
		m.expansionDropped,
	)
	return m
}

func (m *Metrics) observeTier(tier point.Source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tierFetches.WithLabelValues(string(tier), outcome).Inc()
	if outcome != outcomeBreakerOpen {
		m.tierLatency.WithLabelValues(string(tier)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeServed(values []point.Value) {
	if m == nil {
		return
	}
	for _, v := range values {
		m.valuesServed.WithLabelValues(string(v.Source)).Inc()
	}
}

func (m *Metrics) observePoll(backfilled bool) {
	if m == nil {
		return
	}
	m.polls.Inc()
	if backfilled {
		m.backfilledPolls.Inc()
	}
}

func (m *Metrics) observeSubscription(event string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(event).Inc()
}

func (m *Metrics) observeDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.expansionDropped.Add(float64(n))
}
