// Package errors classifies SemTrust failures.
//
// Three classes drive handling across the pipeline:
//
//   - Transient: broker or storage hiccups, retry with backoff
//   - Invalid: malformed payloads or bad signatures, drop the input
//   - Fatal: missing host name, corrupted snapshots, bad configuration
//
// Wrap third-party errors with component context:
//
//	if err := kv.Put(ctx, key, data); err != nil {
//	    return errors.WrapTransient(err, "KVStore", "Put", "write snapshot blob")
//	}
//
// The resulting message reads "KVStore.Put: write snapshot blob failed: <cause>"
// and still matches errors.Is against the cause.
package errors
