package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semtrust"

// Metrics contains the pipeline metrics shared by both binaries
type Metrics struct {
	// Consumer side
	ClassifierMessages  *prometheus.CounterVec
	ReadingsRecorded    prometheus.Counter
	AnnotationsRecorded prometheus.Counter
	SnapshotDuration    prometheus.Histogram
	SnapshotFailures    prometheus.Counter

	// Producer side
	AnnotationsCreated *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec

	// Component health
	HealthStatus *prometheus.GaugeVec

	// NATS
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metric set without registering it
func NewMetrics() *Metrics {
	return &Metrics{
		ClassifierMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "classifier",
				Name:      "messages_total",
				Help:      "Messages classified, by outcome (reading, annotations, unrecognized)",
			},
			[]string{"kind"},
		),

		ReadingsRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "readings_total",
				Help:      "Reading records appended to consumer state",
			},
		),

		AnnotationsRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "annotations_total",
				Help:      "Annotation records appended to consumer state",
			},
		),

		SnapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "snapshot_duration_seconds",
				Help:      "Time spent writing the three state blobs",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		SnapshotFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "snapshot_failures_total",
				Help:      "Snapshot attempts that failed after retries",
			},
		),

		AnnotationsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "annotator",
				Name:      "annotations_total",
				Help:      "Annotations produced, by kind and satisfaction",
			},
			[]string{"kind", "satisfied"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "published_total",
				Help:      "Messages published to the log, by topic",
			},
			[]string{"topic"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Component health (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ClassifierMessages,
		m.ReadingsRecorded,
		m.AnnotationsRecorded,
		m.SnapshotDuration,
		m.SnapshotFailures,
		m.AnnotationsCreated,
		m.MessagesPublished,
		m.HealthStatus,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSCircuitBreaker,
	}
}

// RecordClassified counts one classifier outcome
func (m *Metrics) RecordClassified(kind string) {
	m.ClassifierMessages.WithLabelValues(kind).Inc()
}

// RecordReading counts one stored reading record
func (m *Metrics) RecordReading() {
	m.ReadingsRecorded.Inc()
}

// RecordAnnotations counts n stored annotation records
func (m *Metrics) RecordAnnotations(n int) {
	m.AnnotationsRecorded.Add(float64(n))
}

// RecordSnapshot observes a snapshot write; failed writes also bump the failure counter
func (m *Metrics) RecordSnapshot(d time.Duration, err error) {
	m.SnapshotDuration.Observe(d.Seconds())
	if err != nil {
		m.SnapshotFailures.Inc()
	}
}

// RecordAnnotation counts an annotation produced by the publisher
func (m *Metrics) RecordAnnotation(kind string, satisfied bool) {
	m.AnnotationsCreated.WithLabelValues(kind, strconv.FormatBool(satisfied)).Inc()
}

// RecordPublished counts a message written to the log
func (m *Metrics) RecordPublished(topic string) {
	m.MessagesPublished.WithLabelValues(topic).Inc()
}

// RecordHealthStatus updates health check status
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	m.HealthStatus.WithLabelValues(component).Set(boolToFloat(healthy))
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	m.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (m *Metrics) RecordCircuitBreakerState(state int) {
	m.NATSCircuitBreaker.Set(float64(state))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
