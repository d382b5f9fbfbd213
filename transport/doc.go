// Package transport carries SemTrust messages between a producer and its
// subscribers over an append-only author stream.
//
// An Endpoint is one participant of a stream. The producer calls CreateStream,
// which publishes a signed announcement; its address is handed out over HTTP.
// A subscriber calls Join with that address, then SendSubscription; the
// producer completes the handshake with AcceptSubscription, which publishes a
// keyload record. Data is written with Publish and read in order with
// ReceiveNext, which skips control records and drops signed records whose
// signature does not verify.
//
// Endpoints are backed by a Log. NATSLog keeps one JetStream stream per author
// (SEMTRUST_<author>, subjects semtrust.<author>.<topic>) and reads with an
// ordered consumer; MemoryLog keeps everything in process.
//
// Backup seals the session (identity, stream, cursor, branches) with
// integrity.Seal. Restore reopens it and resumes after the saved cursor.
package transport
