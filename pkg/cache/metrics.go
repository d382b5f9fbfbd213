package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semtrust/metric"
)

// Lookup results on semtrust_cache_lookups_total
const (
	resultHit  = "hit"
	resultMiss = "miss"
)

// cacheMetrics exports one cache's counters, labelled by cache name.
// A nil receiver records nothing.
type cacheMetrics struct {
	lookups   *prometheus.CounterVec
	evictions prometheus.Counter
	entries   prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, name string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"cache": name}
	m := &cacheMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "semtrust",
			Subsystem:   "cache",
			Name:        "lookups_total",
			Help:        "Cache lookups by result",
			ConstLabels: labels,
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "semtrust",
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Expired entries dropped",
			ConstLabels: labels,
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "semtrust",
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Entries currently held",
			ConstLabels: labels,
		}),
	}
	// pre-create both series so a cold cache still exports zeros
	m.lookups.WithLabelValues(resultHit)
	m.lookups.WithLabelValues(resultMiss)

	if err := registry.RegisterCounterVec(name, "cache_lookups", m.lookups); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "cache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "cache_entries", m.entries); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *cacheMetrics) lookup(hit bool) {
	if m == nil {
		return
	}
	result := resultMiss
	if hit {
		result = resultHit
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *cacheMetrics) evicted(n, remaining int) {
	if m == nil {
		return
	}
	m.evictions.Add(float64(n))
	m.entries.Set(float64(remaining))
}

func (m *cacheMetrics) resized(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
