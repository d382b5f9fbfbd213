// Package semtrust is a data-confidence pipeline for sensor streams.
//
// A publisher reads mock sensors, runs a set of annotators over every
// reading (threshold, source, pki, tls), and writes the signed readings and
// their signed annotation lists to an author stream. A subscriber follows
// that stream, classifies each message, reconciles annotations with the
// readings they describe, and serves a per-sensor confidence view.
//
// # Architecture
//
//	┌──────────────────────┐   announcement exchange (HTTP)   ┌──────────────────────┐
//	│      Publisher       │ ◀──────────────────────────────▶ │      Subscriber      │
//	│  sensor → annotator  │                                  │ classifier → reconciler
//	│  → publisher SDK     │                                  │ → score → dashboard  │
//	└──────────┬───────────┘                                  └──────────▲───────────┘
//	           │ signed messages                                         │ ReceiveNext
//	           ▼                                                         │
//	┌─────────────────────────────────────────────────────────────────────────────────┐
//	│                transport.Log (NATS JetStream or in-memory)                       │
//	└─────────────────────────────────────────────────────────────────────────────────┘
//
// Both roles snapshot their session and state through storage (file,
// sqlite, NATS KV or object store) and resume from it on restart.
//
// # Packages
//
// Data and integrity:
//   - message: readings, annotations, wrappers and their records
//   - integrity: hash providers and the ed25519 signer
//   - annotator: the annotator kinds and their construction
//
// Pipeline:
//   - transport: author and subscriber endpoints over a Log
//   - publisher, sensor: the producer SDK, runner and mock sensors
//   - classifier, reconciler, score: the subscriber's read side
//   - ingest: the polling loop and state snapshotter
//
// Surfaces and plumbing:
//   - gateway: announcement exchange, dashboard, health and metrics
//   - service: role lifecycle and shared dependencies
//   - config, errors, health, metric, natsclient, storage
//   - pkg/cache, pkg/retry, pkg/tlsutil, pkg/worker
//
// The cmd/semtrust binary runs either role, or both for a demo.
package semtrust
