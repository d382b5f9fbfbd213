// Package storage defines the blob store used to persist subscriber snapshots
// and the backends that implement it.
//
// Backends:
//   - filestore: a local directory, atomic temp-file-then-rename writes
//   - sqlitestore: one SQLite table via modernc.org/sqlite
//   - kvstore: a NATS JetStream Key-Value bucket (1 MiB value limit)
//   - objectstore: a NATS JetStream ObjectStore bucket
//
// Instrument decorates any backend with Prometheus operation counters,
// latency histograms and byte counters registered on a metric.MetricsRegistrar.
//
// Prefix scopes a store under a role name so publisher and subscriber can
// share one bucket or database file.
//
//	store, err := filestore.New("/var/lib/semtrust", logger)
//	if err != nil {
//	    return err
//	}
//	store, err = storage.Instrument(store, registry, storage.BackendFile)
package storage
