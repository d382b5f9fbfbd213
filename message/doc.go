// Package message defines the SemTrust wire and record types.
//
// Three shapes travel on the log: a bare Reading, a Signable envelope around
// a reading, and a Wrapper whose base64 content is an AnnotationList. They
// are told apart purely by which strict decoder accepts the bytes, so every
// Decode function rejects unknown fields, missing required fields and
// trailing data.
//
// ReadingRecord and AnnotationRecord are the consumer's stored forms; their
// JSON is the persisted snapshot format.
package message
