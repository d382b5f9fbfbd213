package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semtrust/metric"
)

// storeMetrics holds Prometheus metrics for one Store backend
type storeMetrics struct {
	operations *prometheus.CounterVec   // by operation
	errors     *prometheus.CounterVec   // by operation
	latency    *prometheus.HistogramVec // by operation
	bytes      *prometheus.CounterVec   // by direction
}

func newStoreMetrics(registry metric.MetricsRegistrar, backend string) (*storeMetrics, error) {
	labels := prometheus.Labels{"backend": backend}
	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "semtrust",
			Subsystem:   "storage",
			Name:        "operations_total",
			Help:        "Total number of storage operations",
			ConstLabels: labels,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "semtrust",
			Subsystem:   "storage",
			Name:        "errors_total",
			Help:        "Total number of failed storage operations",
			ConstLabels: labels,
		}, []string{"operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "semtrust",
			Subsystem:   "storage",
			Name:        "operation_duration_seconds",
			Help:        "Storage operation duration in seconds",
			ConstLabels: labels,
			Buckets:     []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"operation"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "semtrust",
			Subsystem:   "storage",
			Name:        "bytes_total",
			Help:        "Bytes written to and read from storage",
			ConstLabels: labels,
		}, []string{"direction"}),
	}

	const service = "storage"
	if err := registry.RegisterCounterVec(service, "operations_"+backend, m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors_"+backend, m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(service, "latency_"+backend, m.latency); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "bytes_"+backend, m.bytes); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) observe(operation string, start time.Time, err error) {
	m.operations.WithLabelValues(operation).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil && !IsNotFound(err) {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// instrumented decorates a Store with operation metrics
type instrumented struct {
	Store
	metrics *storeMetrics
}

// Instrument wraps store so every call is counted and timed under the backend label.
// A nil registry returns store unchanged.
func Instrument(store Store, registry metric.MetricsRegistrar, backend string) (Store, error) {
	if registry == nil {
		return store, nil
	}
	m, err := newStoreMetrics(registry, backend)
	if err != nil {
		return nil, err
	}
	return &instrumented{Store: store, metrics: m}, nil
}

func (s *instrumented) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := s.Store.Put(ctx, key, data)
	s.metrics.observe("put", start, err)
	if err == nil {
		s.metrics.bytes.WithLabelValues("write").Add(float64(len(data)))
	}
	return err
}

func (s *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.Store.Get(ctx, key)
	s.metrics.observe("get", start, err)
	if err == nil {
		s.metrics.bytes.WithLabelValues("read").Add(float64(len(data)))
	}
	return data, err
}

func (s *instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.Store.List(ctx, prefix)
	s.metrics.observe("list", start, err)
	return keys, err
}

func (s *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Store.Delete(ctx, key)
	s.metrics.observe("delete", start, err)
	return err
}
