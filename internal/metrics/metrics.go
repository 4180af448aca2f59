// Package metrics wires the pipeline's Prometheus series (spec section
// 4.10): events processed, latency, failures, retries, DLQ size, consumer
// lag. tenant_id is a label only when includeTenantID is set, to bound
// cardinality across many tenants.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every series the pipeline emits. Implements
// internal/retry.DLQGauge.
type Metrics struct {
	includeTenantID bool

	eventsProcessed       *prometheus.CounterVec
	processingLatencySecs *prometheus.HistogramVec
	processingLatencyMs   *prometheus.HistogramVec
	failuresTotal         *prometheus.CounterVec
	retriesTotal          *prometheus.CounterVec
	dlqTotal              *prometheus.CounterVec
	dlqSize               *prometheus.GaugeVec
	eventsInProcessing    *prometheus.GaugeVec
	kafkaConsumerLag      *prometheus.GaugeVec
}

// New registers every series on reg (pass prometheus.NewRegistry() in tests,
// prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer, includeTenantID bool) *Metrics {
	base := []string{"worker_type", "event_type"}
	worker := []string{"worker_type"}
	topicGroup := []string{"topic", "group_id"}
	if includeTenantID {
		base = append(base, "tenant_id")
		worker = append(worker, "tenant_id")
		topicGroup = append(topicGroup, "tenant_id")
	}

	m := &Metrics{
		includeTenantID: includeTenantID,
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exceptionflow_events_processed_total",
			Help: "Total number of events processed.",
		}, append(append([]string{}, base...), "status")),
		processingLatencySecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exceptionflow_event_processing_latency_seconds",
			Help:    "Event processing latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, base),
		processingLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exceptionflow_event_processing_latency_ms",
			Help:    "Event processing latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, worker),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exceptionflow_failures_total",
			Help: "Total number of event processing failures.",
		}, append(append([]string{}, base...), "error_type")),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exceptionflow_retries_scheduled_total",
			Help: "Total number of retries scheduled.",
		}, base),
		dlqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exceptionflow_dlq_total",
			Help: "Total number of events moved to the dead-letter store.",
		}, base),
		dlqSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exceptionflow_dlq_size",
			Help: "Current number of pending dead-letter events.",
		}, append([]string{"event_type", "worker_type"}, tenantLabelIf(includeTenantID)...)),
		eventsInProcessing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exceptionflow_events_in_processing",
			Help: "Number of events currently being processed.",
		}, worker),
		kafkaConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exceptionflow_kafka_consumer_lag",
			Help: "Kafka consumer lag (messages behind) per topic and group.",
		}, topicGroup),
	}

	reg.MustRegister(
		m.eventsProcessed, m.processingLatencySecs, m.processingLatencyMs,
		m.failuresTotal, m.retriesTotal, m.dlqTotal, m.dlqSize,
		m.eventsInProcessing, m.kafkaConsumerLag,
	)
	return m
}

func tenantLabelIf(include bool) []string {
	if include {
		return []string{"tenant_id"}
	}
	return nil
}

func (m *Metrics) labels(workerType, eventType, tenantID string) prometheus.Labels {
	l := prometheus.Labels{"worker_type": workerType, "event_type": eventType}
	if m.includeTenantID {
		l["tenant_id"] = tenantID
	}
	return l
}

func (m *Metrics) workerLabels(workerType, tenantID string) prometheus.Labels {
	l := prometheus.Labels{"worker_type": workerType}
	if m.includeTenantID {
		l["tenant_id"] = tenantID
	}
	return l
}

// RecordProcessed records one successfully handled event and its latency.
func (m *Metrics) RecordProcessed(workerType, eventType, tenantID string, latencySeconds float64) {
	labels := m.labels(workerType, eventType, tenantID)
	labels["status"] = "success"
	m.eventsProcessed.With(labels).Inc()
	m.processingLatencySecs.With(m.labels(workerType, eventType, tenantID)).Observe(latencySeconds)
	m.processingLatencyMs.With(m.workerLabels(workerType, tenantID)).Observe(latencySeconds * 1000)
}

// RecordFailure records a failed event, classified by errorType
// ("validation_error", "processing_error", "timeout", ...).
func (m *Metrics) RecordFailure(workerType, eventType, tenantID, errorType string) {
	labels := m.labels(workerType, eventType, tenantID)
	labels["error_type"] = errorType
	m.failuresTotal.With(labels).Inc()

	processed := m.labels(workerType, eventType, tenantID)
	processed["status"] = "failed"
	m.eventsProcessed.With(processed).Inc()
}

// IncRetryScheduled implements internal/retry.DLQGauge.
func (m *Metrics) IncRetryScheduled(eventType, workerType string) {
	m.retriesTotal.With(m.labels(workerType, eventType, "")).Inc()
}

// IncDeadLettered implements internal/retry.DLQGauge.
func (m *Metrics) IncDeadLettered(eventType, workerType string) {
	m.dlqTotal.With(m.labels(workerType, eventType, "")).Inc()
}

// SetDLQDepth implements internal/retry.DLQGauge.
func (m *Metrics) SetDLQDepth(tenantID, workerType string, depth float64) {
	labels := prometheus.Labels{"event_type": "", "worker_type": workerType}
	if m.includeTenantID {
		labels["tenant_id"] = tenantID
	}
	m.dlqSize.With(labels).Set(depth)
}

// IncInProcessing increments the in-flight gauge for a worker type, on
// handler dispatch. Paired with DecInProcessing on exit, not an absolute
// Set: with concurrency > 1 several handlers for the same worker_type/
// tenant_id are in flight at once, and Set(1)/Set(0) would collapse the
// gauge to whichever handler finished last rather than reflecting true
// depth (spec section 4.7 step 8, section 4.10).
func (m *Metrics) IncInProcessing(workerType, tenantID string) {
	m.eventsInProcessing.With(m.workerLabels(workerType, tenantID)).Inc()
}

// DecInProcessing decrements the in-flight gauge; see IncInProcessing.
func (m *Metrics) DecInProcessing(workerType, tenantID string) {
	m.eventsInProcessing.With(m.workerLabels(workerType, tenantID)).Dec()
}

// SetConsumerLag records best-effort Kafka consumer lag.
func (m *Metrics) SetConsumerLag(topic, groupID, tenantID string, lag float64) {
	labels := prometheus.Labels{"topic": topic, "group_id": groupID}
	if m.includeTenantID {
		labels["tenant_id"] = tenantID
	}
	m.kafkaConsumerLag.With(labels).Set(lag)
}
