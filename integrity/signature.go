package integrity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/semtrust/errors"
)

// SignatureProvider signs and verifies byte payloads
type SignatureProvider interface {
	Sign(data []byte) (string, error)
	Verify(data []byte, signature string) (bool, error)
}

// KeyFiles locates the hex-encoded ed25519 key pair on disk
type KeyFiles struct {
	Private string
	Public  string
}

// Ed25519Provider signs with a private key and verifies with its public half
type Ed25519Provider struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

var _ SignatureProvider = (*Ed25519Provider)(nil)

// NewEd25519Provider wraps an existing private key
func NewEd25519Provider(priv ed25519.PrivateKey) *Ed25519Provider {
	return &Ed25519Provider{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// GenerateEd25519Provider creates a provider around a fresh key
func GenerateEd25519Provider() (*Ed25519Provider, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "integrity", "GenerateEd25519Provider", "generate key")
	}
	return NewEd25519Provider(priv), nil
}

// PublicKey returns the verifying key
func (p *Ed25519Provider) PublicKey() ed25519.PublicKey {
	return p.pub
}

// Seed returns the 32-byte private seed
func (p *Ed25519Provider) Seed() []byte {
	return p.priv.Seed()
}

// Sign returns the hex signature over data
func (p *Ed25519Provider) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(p.priv, data)), nil
}

// Verify checks a hex signature against the provider's own public key
func (p *Ed25519Provider) Verify(data []byte, signature string) (bool, error) {
	return VerifyWithKey(p.pub, data, signature)
}

// VerifyWithKey checks a hex signature against a third party's public key.
// A signature that is not hex is an error; a wrong signature is false.
func VerifyWithKey(pub ed25519.PublicKey, data []byte, signature string) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.WrapInvalid(fmt.Errorf("public key is %d bytes", len(pub)),
			"integrity", "VerifyWithKey", "check public key")
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false, errors.WrapInvalid(err, "integrity", "VerifyWithKey", "decode signature")
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pub, data, sig), nil
}

// ParsePrivateKey accepts a hex 32-byte seed or 64-byte private key
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.WrapInvalid(err, "integrity", "ParsePrivateKey", "decode hex")
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("private key is %d bytes", len(raw)),
		"integrity", "ParsePrivateKey", "check key length")
}

// ParsePublicKey accepts a hex 32-byte public key
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.WrapInvalid(err, "integrity", "ParsePublicKey", "decode hex")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.WrapInvalid(fmt.Errorf("public key is %d bytes", len(raw)),
			"integrity", "ParsePublicKey", "check key length")
	}
	return ed25519.PublicKey(raw), nil
}

// LoadPublicKey reads a hex public key file
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "integrity", "LoadPublicKey", "read key file")
	}
	return ParsePublicKey(string(data))
}

// LoadOrGenerateKeys loads the key pair, or generates it and writes both
// files as hex when the private key file does not exist yet.
func LoadOrGenerateKeys(files KeyFiles) (*Ed25519Provider, error) {
	data, err := os.ReadFile(files.Private)
	if err == nil {
		priv, err := ParsePrivateKey(string(data))
		if err != nil {
			return nil, err
		}
		return NewEd25519Provider(priv), nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.WrapFatal(err, "integrity", "LoadOrGenerateKeys", "read private key")
	}

	p, err := GenerateEd25519Provider()
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(files.Private); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.WrapFatal(err, "integrity", "LoadOrGenerateKeys", "create key directory")
		}
	}
	if err := os.WriteFile(files.Private, []byte(hex.EncodeToString(p.priv)), 0o600); err != nil {
		return nil, errors.WrapFatal(err, "integrity", "LoadOrGenerateKeys", "write private key")
	}
	if files.Public != "" {
		if err := os.WriteFile(files.Public, []byte(hex.EncodeToString(p.pub)), 0o644); err != nil {
			return nil, errors.WrapFatal(err, "integrity", "LoadOrGenerateKeys", "write public key")
		}
	}
	return p, nil
}
