// Package retry runs an operation with exponential backoff.
//
// SemTrust uses it for snapshot writes, the subscriber's announcement lookup
// and the NATS connection handshake. Errors wrapped with NonRetryable stop the
// loop immediately; context cancellation aborts between attempts.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return store.Put(ctx, "readings.json", blob)
//	})
package retry
