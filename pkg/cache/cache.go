package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/metric"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats is a point-in-time copy of the counters
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// HitRatio is hits over lookups, 0 before the first lookup
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a TTL cache
type Option[V any] func(*TTL[V])

// WithMetrics exports the counters labelled cache=name. Ignored when
// registry is nil.
func WithMetrics[V any](registry *metric.MetricsRegistry, name string) Option[V] {
	return func(c *TTL[V]) {
		if registry != nil && name != "" {
			c.metricsReg = registry
			c.metricsName = name
		}
	}
}

// WithClock replaces time.Now
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// TTL caches values for a fixed duration after they are set
type TTL[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]entry[V]
	// loading serializes Load per key
	loading map[string]*sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	metricsReg    *metric.MetricsRegistry
	metricsName   string
	metrics       *cacheMetrics
}

// NewTTL returns an empty cache. ttl must be positive.
func NewTTL[V any](ttl time.Duration, opts ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("ttl must be positive, got %s", ttl), "cache", "NewTTL", "validate ttl")
	}
	c := &TTL[V]{
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]entry[V]),
		loading: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metricsReg != nil {
		m, err := newCacheMetrics(c.metricsReg, c.metricsName)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewTTL", "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

// Get returns the live value for key
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.getLocked(key)
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.lookup(ok)
	return v, ok
}

func (c *TTL[V]) getLocked(key string) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		c.evictions.Add(1)
		c.metrics.evicted(1, len(c.items))
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for the cache's ttl
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()
	c.metrics.resized(size)
}

// Delete drops key and reports whether it was present
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.items[key]
	delete(c.items, key)
	size := len(c.items)
	c.mu.Unlock()
	c.metrics.resized(size)
	return ok
}

// Load returns the cached value or stores and returns load(). Concurrent
// callers missing the same key wait for a single load.
func (c *TTL[V]) Load(key string, load func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}

	c.mu.Lock()
	lock, ok := c.loading[key]
	if !ok {
		lock = &sync.Mutex{}
		c.loading[key] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Another caller may have filled it while we waited
	c.mu.Lock()
	v, ok := c.getLocked(key)
	c.mu.Unlock()
	if ok {
		return v
	}

	v = load()
	c.Set(key, v)
	return v
}

// Purge drops every expired entry and returns how many were removed
func (c *TTL[V]) Purge() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		c.metrics.evicted(removed, size)
	}
	return removed
}

// Stats returns the current counters
func (c *TTL[V]) Stats() Stats {
	c.mu.Lock()
	size := len(c.items)
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}
