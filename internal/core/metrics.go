package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusHTTPMetrics records RED metrics for the relay's HTTP routes.
type PrometheusHTTPMetrics struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusHTTPMetrics)(nil)

// NewPrometheusHTTPMetrics registers the HTTP collectors on reg.
func NewPrometheusHTTPMetrics(reg prometheus.Registerer) *PrometheusHTTPMetrics {
	f := promauto.With(reg)
	return &PrometheusHTTPMetrics{
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
	}
}

func (m *PrometheusHTTPMetrics) RecordRequest(method, route, status string, duration time.Duration) {
	m.duration.WithLabelValues(route, method, status).Observe(duration.Seconds())
	m.requests.WithLabelValues(route, method, status).Inc()
}
