// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the detector.
type Metrics struct {
	// Transport metrics
	TransportSwitches prometheus.Counter
	TransportCalls    *prometheus.CounterVec
	RPCCallLatency    *prometheus.HistogramVec

	// Subscription metrics
	Notifications     *prometheus.CounterVec
	Duplicates        prometheus.Counter
	Reconnects        *prometheus.CounterVec
	SubscriptionState *prometheus.GaugeVec

	// Pipeline metrics
	Signatures         *prometheus.CounterVec
	EnrichmentFailures *prometheus.CounterVec
	PipelineDuration   prometheus.Histogram
	InFlight           prometheus.Gauge

	// Store metrics
	StoreRecoveries     prometheus.Counter
	StorePersistFailure *prometheus.CounterVec
	DetectionsRetained  prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "sol_beast"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Transport metrics
		TransportSwitches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "switches_total",
			Help:      "Total number of HTTP to WebSocket protocol switches",
		}),
		TransportCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "calls_total",
			Help:      "Total RPC calls by protocol and outcome",
		}, []string{"protocol", "outcome"}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "call_latency_seconds",
			Help:      "RPC call latency by method",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		// Subscription metrics
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "notifications_total",
			Help:      "Total log notifications received by endpoint",
		}, []string{"endpoint"}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "duplicates_total",
			Help:      "Total signatures dropped by cross-endpoint deduplication",
		}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts by endpoint",
		}, []string{"endpoint"}),
		SubscriptionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "state",
			Help:      "Worker state by endpoint (0=disconnected 1=connecting 2=subscribe_sent 3=subscribed)",
		}, []string{"endpoint"}),

		// Pipeline metrics
		Signatures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signatures_total",
			Help:      "Signatures processed by outcome",
		}, []string{"outcome"}),
		EnrichmentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "enrichment_failures_total",
			Help:      "Best-effort enrichment failures by stage",
		}, []string{"stage"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Time from signature intake to record",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Signatures currently being processed",
		}),

		// Store metrics
		StoreRecoveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "recoveries_total",
			Help:      "Times the store recovered from an interrupted mutation",
		}),
		StorePersistFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persist_failures_total",
			Help:      "Persistence failures by key",
		}, []string{"key"}),
		DetectionsRetained: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "detections_retained",
			Help:      "Detections currently held in the ring buffer",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer, "")

// RecordTransportSwitch counts a permanent protocol switch.
func RecordTransportSwitch() {
	DefaultMetrics.TransportSwitches.Inc()
}

// RecordTransportCall records one call outcome and its latency.
func RecordTransportCall(protocol, method string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DefaultMetrics.TransportCalls.WithLabelValues(protocol, outcome).Inc()
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordNotification counts a log notification from an endpoint.
func RecordNotification(endpoint string) {
	DefaultMetrics.Notifications.WithLabelValues(endpoint).Inc()
}

// RecordDuplicate counts a deduplicated signature.
func RecordDuplicate() {
	DefaultMetrics.Duplicates.Inc()
}

// RecordReconnect counts a reconnect attempt.
func RecordReconnect(endpoint string) {
	DefaultMetrics.Reconnects.WithLabelValues(endpoint).Inc()
}

// SetSubscriptionState publishes the numeric worker state.
func SetSubscriptionState(endpoint string, state int) {
	DefaultMetrics.SubscriptionState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordSignature records a pipeline outcome (detected, dropped, failed).
func RecordSignature(outcome string, durationSeconds float64) {
	DefaultMetrics.Signatures.WithLabelValues(outcome).Inc()
	DefaultMetrics.PipelineDuration.Observe(durationSeconds)
}

// RecordEnrichmentFailure counts a degraded enrichment stage.
func RecordEnrichmentFailure(stage string) {
	DefaultMetrics.EnrichmentFailures.WithLabelValues(stage).Inc()
}

// AddInFlight adjusts the in-flight gauge.
func AddInFlight(delta int) {
	DefaultMetrics.InFlight.Add(float64(delta))
}

// RecordStoreRecovery counts a lock recovery.
func RecordStoreRecovery() {
	DefaultMetrics.StoreRecoveries.Inc()
}

// RecordPersistFailure counts a failed KV write.
func RecordPersistFailure(key string) {
	DefaultMetrics.StorePersistFailure.WithLabelValues(key).Inc()
}

// SetDetectionsRetained publishes the ring buffer size.
func SetDetectionsRetained(n int) {
	DefaultMetrics.DetectionsRetained.Set(float64(n))
}
