// Package integrity provides the hash and signature primitives behind
// SemTrust annotations.
//
// A HashProvider turns canonical reading bytes into the content key that
// re-associates readings with their annotations. A SignatureProvider signs
// and verifies annotation and envelope bytes with ed25519; signatures and
// key files are lowercase hex. Seal and Open protect transport session
// backups with AES-256-GCM under an argon2id-derived key.
package integrity
