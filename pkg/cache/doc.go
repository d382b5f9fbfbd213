// Package cache provides a small thread-safe TTL cache.
//
// Entries expire lazily: Get treats an expired entry as a miss and drops
// it. Load collapses concurrent misses for the same key into one call of
// the loader, which suits values that are expensive to compute and read
// from many goroutines, such as the dashboard's scored view.
//
// Hits, misses and evictions are always counted; WithMetrics also exports
// them through a metric.MetricsRegistry.
//
//	views, err := cache.NewTTL[[]score.SensorView](time.Second,
//		cache.WithMetrics[[]score.SensorView](registry, "dashboard"))
//	view := views.Load("sensors", compute)
package cache
