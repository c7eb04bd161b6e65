// Package metrics exposes Prometheus collectors for the relay service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relaySubmissionsTotal      *prometheus.CounterVec
	relayDeliveriesTotal       *prometheus.CounterVec
	relayResultsDroppedTotal   *prometheus.CounterVec
	relayConnectionsActive     prometheus.Gauge
	relayEvictionsTotal        prometheus.Counter
	relayConsumerStateChanges  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		relaySubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_submissions_total",
				Help: "Total crawl request submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		relayDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_deliveries_total",
				Help: "Total result deliveries to live connections, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		relayResultsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_results_dropped_total",
				Help: "Result messages dropped before delivery, labeled by reason.",
			},
			[]string{"reason"},
		)

		relayConnectionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_connections_active",
				Help: "Currently bound client connections.",
			},
		)

		relayEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_evictions_total",
				Help: "Connections forcibly terminated by a newer bind for the same identity.",
			},
		)

		relayConsumerStateChanges = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_consumer_state_changes_total",
				Help: "Consumer lifecycle transitions, labeled by topic and new state.",
			},
			[]string{"topic", "state"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// RecordSubmission counts a submission outcome (accepted, validation_error,
// storage_error, publish_error).
func RecordSubmission(outcome string) {
	if relaySubmissionsTotal != nil {
		relaySubmissionsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordDelivery counts a delivery outcome (delivered, offline, send_error).
func RecordDelivery(outcome string) {
	if relayDeliveriesTotal != nil {
		relayDeliveriesTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordDroppedResult counts a result dropped before delivery
// (missing_header, unknown_fingerprint, malformed_body, identity_mismatch).
func RecordDroppedResult(reason string) {
	if relayResultsDroppedTotal != nil {
		relayResultsDroppedTotal.WithLabelValues(reason).Inc()
	}
}

// SetActiveConnections tracks the bound connection count.
func SetActiveConnections(n int) {
	if relayConnectionsActive != nil {
		relayConnectionsActive.Set(float64(n))
	}
}

// RecordEviction counts one forced connection eviction.
func RecordEviction() {
	if relayEvictionsTotal != nil {
		relayEvictionsTotal.Inc()
	}
}

// RecordConsumerState counts a lifecycle transition for a topic.
func RecordConsumerState(topic, state string) {
	if relayConsumerStateChanges != nil {
		relayConsumerStateChanges.WithLabelValues(topic, state).Inc()
	}
}

// ObserveHTTPRequest records one handled HTTP request.
func ObserveHTTPRequest(method, route string, status int, dur time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, statusLabel(status)).Inc()
	}
	if httpRequestDurationSeconds != nil {
		httpRequestDurationSeconds.WithLabelValues(method, route).Observe(dur.Seconds())
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
