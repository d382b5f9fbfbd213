package annotator

import (
	"context"
	"crypto/ed25519"
	"log/slog"

	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/message"
)

// Source attests that the payload was annotated on an identifiable host
type Source struct {
	base
}

// Kind implements Annotator
func (s *Source) Kind() message.Kind { return message.KindSource }

// Annotate implements Annotator. Host resolution failing is an error, so a
// returned annotation is always satisfied.
func (s *Source) Annotate(_ context.Context, payload []byte) (message.Annotation, error) {
	return s.annotate("Source", payload, message.KindSource, true)
}

// TLS attests whether the transport connection is encrypted
type TLS struct {
	base
	enabled bool
}

// Kind implements Annotator
func (t *TLS) Kind() message.Kind { return message.KindTLS }

// Annotate implements Annotator
func (t *TLS) Annotate(_ context.Context, payload []byte) (message.Annotation, error) {
	return t.annotate("TLS", payload, message.KindTLS, t.enabled)
}

// PKI attests that a Signable envelope carries a valid producer signature
type PKI struct {
	base
	producer ed25519.PublicKey
	logger   *slog.Logger
}

// Kind implements Annotator
func (p *PKI) Kind() message.Kind { return message.KindPKI }

// Annotate implements Annotator
func (p *PKI) Annotate(_ context.Context, payload []byte) (message.Annotation, error) {
	return p.annotate("PKI", payload, message.KindPKI, p.verified(payload))
}

func (p *PKI) verified(payload []byte) bool {
	s, ok := message.DecodeSignable(payload)
	if !ok {
		return false
	}
	ok, err := integrity.VerifyWithKey(p.producer, []byte(s.Seed), s.Signature)
	if err != nil {
		p.logger.Debug("signable signature unreadable", "error", err)
		return false
	}
	return ok
}
