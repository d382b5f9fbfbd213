// Package ingest runs the subscriber's single ingestion goroutine.
//
// Each iteration receives at most one message from the transport, classifies
// signed payloads into readings or annotation bundles, records them in the
// reconciler and then snapshots the sealed transport session together with
// both collections through a storage.Store:
//
//	session.bin       sealed transport session
//	readings.json     []message.ReadingRecord in arrival order
//	annotations.json  []message.AnnotationRecord in arrival order
//
// An empty receive sleeps for the poll interval. Snapshot writes retry with
// backoff; when retries are exhausted Run returns a fatal error. Cancelling the
// context writes a final snapshot and Run returns nil, so a crash and a clean
// stop resume from the same state.
package ingest
