// Package gateway provides the HTTP surfaces of SemTrust.
//
// The publisher exposes the announcement exchange a subscriber needs to join
// its stream:
//
//	GET  /get_announcement_id  -> {"announcement_id": "<address>"}
//	POST /subscribe            -> {"message": "Subscription processed, keyload link: <address>"}
//
// The subscriber exposes a read-only dashboard over its reconciled state:
//
//	GET /api/sensors  -> []score.SensorView
//	GET /ws           -> the same view pushed on an interval over a websocket
//
// Both binaries also mount /health (health.Monitor aggregate) and /metrics
// (Prometheus). Handlers implement HTTPHandler and are mounted on a Server,
// which owns the listener and graceful shutdown. WithTLS turns the listener
// into HTTPS; POST /subscribe is rate limited and answers 429 when exhausted.
// The dashboard can share one scored view between callers through
// WithViewCache.
//
// Client is the subscriber side of the announcement exchange.
package gateway
