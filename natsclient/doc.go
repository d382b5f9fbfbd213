// Package natsclient wraps the NATS Go client with circuit breaker protection,
// automatic reconnection and the JetStream operations SemTrust needs: stream
// management, header-carrying publishes, ordered consumers and Key-Value buckets.
//
// # Circuit Breaker
//
// After a threshold of consecutive failures (default 5) the circuit opens and
// every JetStream call fails fast with ErrCircuitOpen. The backoff doubles each
// time the circuit opens, capped by WithMaxBackoff. Once the backoff elapses the
// circuit moves to half-open and the next Connect is allowed to try again.
//
// # Connection Lifecycle
//
// Disconnected → Connecting → Connected → Reconnecting → Connected. A
// StatusRecorder (metric.Metrics satisfies it) receives connection, reconnect and
// breaker state changes.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("subscriber"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	stream, err := client.EnsureStream(ctx, jetstream.StreamConfig{
//	    Name:     "SEMTRUST_abcd",
//	    Subjects: []string{"semtrust.abcd.>"},
//	})
//
// # Key-Value
//
// KVStore adds CAS retry, a value size limit and normalised error detection on
// top of jetstream.KeyValue:
//
//	bucket, _ := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "snapshots"})
//	kv := client.NewKVStore(bucket)
//	_, err := kv.Put(ctx, "readings.json", data)
//
// # Testing
//
// NewTestClient starts a JetStream-enabled NATS container through
// testcontainers-go and registers cleanup with the test. Integration tests are
// guarded by the "integration" build tag.
package natsclient
