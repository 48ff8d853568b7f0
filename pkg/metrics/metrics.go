package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngressMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_messages_total",
			Help: "Inbound messages by outcome",
		},
		[]string{"outcome"}, // accepted, duplicate, missing_id, invalid_id, malformed
	)

	DispatchedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatched_messages_total",
			Help: "Outbound connector messages by endpoint type",
		},
		[]string{"endpoint_type"},
	)

	RenderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_failures_total",
			Help: "Per-endpoint render failures by endpoint type",
		},
		[]string{"endpoint_type"},
	)

	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Connector callback reconciliations by outcome",
		},
		[]string{"outcome"}, // success, failure_client, failure_server, unknown_history, malformed
	)

	EndpointsDisabled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endpoints_disabled_total",
			Help: "Endpoints auto-disabled by error classification",
		},
		[]string{"error_type"}, // client, server
	)

	DigestKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_keys_total",
			Help: "Digest aggregation keys by outcome",
		},
		[]string{"outcome"}, // processed, failed, empty
	)

	ConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)
)

// RecordConsumeLatency records how long one message took to process.
func RecordConsumeLatency(routingKey string, duration time.Duration) {
	ConsumeLatency.WithLabelValues(routingKey).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration records a repository query duration.
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}
