package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notifyrelay/internal/types"
)

// PrometheusNotificationMetrics implements NotificationMetrics with
// Prometheus collectors, scraped from /metrics.
type PrometheusNotificationMetrics struct {
	deliveries     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	queueLag       *prometheus.HistogramVec
	decodeFailures *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	reconnects     prometheus.Counter
}

var _ NotificationMetrics = (*PrometheusNotificationMetrics)(nil)

// NewPrometheusNotificationMetrics registers the relay collectors on reg.
func NewPrometheusNotificationMetrics(reg prometheus.Registerer) *PrometheusNotificationMetrics {
	f := promauto.With(reg)
	return &PrometheusNotificationMetrics{
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delivery_attempts_total",
			Help: "Delivery attempts per sink and result.",
		}, []string{"sink", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_seconds",
			Help:    "Duration of sink delivery attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		queueLag: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_queue_lag_seconds",
			Help:    "Time messages spent in the queue before handling.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"queue"}),
		decodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_decode_failures_total",
			Help: "Messages discarded because they could not be decoded.",
		}, []string{"queue"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_alerts_total",
			Help: "Alerts received per storage result.",
		}, []string{"result"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_broker_reconnects_total",
			Help: "Broker reconnect attempts after a connection failure.",
		}),
	}
}

func (m *PrometheusNotificationMetrics) RecordDelivery(_ context.Context, sink types.SinkName, result MetricResult) {
	m.deliveries.WithLabelValues(string(sink), string(result)).Inc()
}

func (m *PrometheusNotificationMetrics) RecordLatency(_ context.Context, sink types.SinkName, duration time.Duration) {
	m.latency.WithLabelValues(string(sink)).Observe(duration.Seconds())
}

func (m *PrometheusNotificationMetrics) RecordQueueLag(_ context.Context, queue string, lag time.Duration) {
	m.queueLag.WithLabelValues(queue).Observe(lag.Seconds())
}

func (m *PrometheusNotificationMetrics) RecordDecodeFailure(_ context.Context, queue string) {
	m.decodeFailures.WithLabelValues(queue).Inc()
}

func (m *PrometheusNotificationMetrics) RecordAlertStored(_ context.Context, result MetricResult) {
	m.alerts.WithLabelValues(string(result)).Inc()
}

func (m *PrometheusNotificationMetrics) RecordReconnect(context.Context) {
	m.reconnects.Inc()
}
