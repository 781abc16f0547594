package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// httpMetrics records request counts and latency per route.
// A nil *httpMetrics records nothing.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsegw",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pulsegw",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"route"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *httpMetrics) observe(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}
