// Package annotator produces signed trust annotations for sensor payloads.
package annotator

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/message"
)

// Annotator evaluates one payload and returns a signed annotation
type Annotator interface {
	Annotate(ctx context.Context, payload []byte) (message.Annotation, error)
	Kind() message.Kind
}

// HostResolver returns the local host identifier
type HostResolver func() (string, error)

// OSHostname resolves the host with os.Hostname
func OSHostname() (string, error) {
	return os.Hostname()
}

// Config selects and parameterizes the annotators
type Config struct {
	Kinds         []message.Kind
	ThresholdLow  uint8
	ThresholdHigh uint8
	TLSEnabled    bool
}

// Deps are the collaborators shared by every annotator
type Deps struct {
	Hash   integrity.HashProvider
	Signer integrity.SignatureProvider
	// ProducerKey verifies Signable envelopes for the pki annotator
	ProducerKey ed25519.PublicKey
	Host        HostResolver
	Logger      *slog.Logger
}

// New builds the configured annotators in order
func New(cfg Config, deps Deps) ([]Annotator, error) {
	if deps.Hash == nil || deps.Signer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "annotator", "New", "check providers")
	}
	if deps.Host == nil {
		deps.Host = OSHostname
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	b := base{hash: deps.Hash, signer: deps.Signer, host: deps.Host}

	out := make([]Annotator, 0, len(cfg.Kinds))
	seen := make(map[message.Kind]bool, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		if seen[k] {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate annotator kind %q", k),
				"annotator", "New", "build annotators")
		}
		seen[k] = true

		switch k {
		case message.KindThreshold:
			t, err := NewThreshold(cfg.ThresholdLow, cfg.ThresholdHigh, deps)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		case message.KindSource:
			out = append(out, &Source{base: b})
		case message.KindTLS:
			out = append(out, &TLS{base: b, enabled: cfg.TLSEnabled})
		case message.KindPKI:
			if len(deps.ProducerKey) != ed25519.PublicKeySize {
				return nil, errors.WrapInvalid(fmt.Errorf("pki annotator needs a producer public key"),
					"annotator", "New", "build pki annotator")
			}
			out = append(out, &PKI{base: b, producer: deps.ProducerKey, logger: deps.Logger})
		default:
			return nil, errors.WrapInvalid(fmt.Errorf("unknown annotator kind %q", k),
				"annotator", "New", "build annotators")
		}
	}
	return out, nil
}

// base holds the steps every kind shares: key derivation, host lookup, signing
type base struct {
	hash   integrity.HashProvider
	signer integrity.SignatureProvider
	host   HostResolver
}

// canonical returns the bytes a key is derived from: the Signable seed when
// payload is an envelope, else payload itself.
func canonical(payload []byte) []byte {
	if s, ok := message.DecodeSignable(payload); ok {
		return []byte(s.Seed)
	}
	return payload
}

func (b base) annotate(component string, payload []byte, kind message.Kind, satisfied bool) (message.Annotation, error) {
	key := b.hash.Derive(canonical(payload))

	host, err := b.host()
	if err != nil || host == "" {
		if err == nil {
			err = errors.ErrNoHostName
		} else {
			err = fmt.Errorf("%w: %v", errors.ErrNoHostName, err)
		}
		return message.Annotation{}, errors.WrapFatal(err, component, "Annotate", "resolve host")
	}

	a := message.NewAnnotation(key, b.hash.Type(), host, kind, satisfied)
	return b.sign(component, a)
}

func (b base) sign(component string, a message.Annotation) (message.Annotation, error) {
	body, err := a.SigningBytes()
	if err != nil {
		return message.Annotation{}, errors.WrapInvalid(err, component, "Annotate", "serialize annotation")
	}
	sig, err := b.signer.Sign(body)
	if err != nil {
		return message.Annotation{}, errors.Wrap(err, component, "Annotate", "sign annotation")
	}
	a.Signature = sig
	return a, nil
}

// VerifyAnnotation checks an annotation signature against the signer's key
func VerifyAnnotation(pub ed25519.PublicKey, a message.Annotation) (bool, error) {
	body, err := a.SigningBytes()
	if err != nil {
		return false, err
	}
	return integrity.VerifyWithKey(pub, body, a.Signature)
}
