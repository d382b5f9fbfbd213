// Package publisher is the producer side of SemTrust.
//
// SDK annotates one payload with every configured annotator and publishes the
// resulting bundle on the annotations topic. Runner drives the mock sensors:
// each tick it publishes every reading, wraps it in a Signable envelope, and
// hands the envelope to a worker pool that calls SDK.Create. The author
// session is backed up to a storage.Store after every tick so a restarted
// producer keeps its stream.
package publisher
