// Package metric holds the Prometheus registry shared by the SemTrust
// publisher and subscriber.
//
// NewMetricsRegistry registers the core pipeline metrics (Metrics) together
// with the Go runtime and process collectors. Components that own their own
// collectors, such as the worker pool, register them through the
// MetricsRegistrar methods keyed by "<service>.<metric>"; registering the same
// key twice is an invalid-class error.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordClassified("reading")
//	mux.Handle("/metrics", registry.Handler())
package metric
