package annotator

import (
	"context"
	"fmt"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/message"
)

// Threshold marks a reading satisfied when its value lies in [Low, High]
type Threshold struct {
	base
	Low  uint8
	High uint8
}

// NewThreshold builds a threshold annotator; low must not exceed high
func NewThreshold(low, high uint8, deps Deps) (*Threshold, error) {
	if low > high {
		return nil, errors.WrapInvalid(fmt.Errorf("threshold low %d above high %d", low, high),
			"Threshold", "New", "validate range")
	}
	if deps.Hash == nil || deps.Signer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Threshold", "New", "check providers")
	}
	host := deps.Host
	if host == nil {
		host = OSHostname
	}
	return &Threshold{
		base: base{hash: deps.Hash, signer: deps.Signer, host: host},
		Low:  low,
		High: high,
	}, nil
}

// Kind implements Annotator
func (t *Threshold) Kind() message.Kind { return message.KindThreshold }

// Annotate implements Annotator
func (t *Threshold) Annotate(_ context.Context, payload []byte) (message.Annotation, error) {
	return t.annotate("Threshold", payload, message.KindThreshold, t.withinThreshold(payload))
}

func (t *Threshold) withinThreshold(payload []byte) bool {
	r, ok := message.DecodeReading(payload)
	if !ok {
		s, ok := message.DecodeSignable(payload)
		if !ok {
			return false
		}
		if r, ok = message.DecodeReading([]byte(s.Seed)); !ok {
			return false
		}
	}
	return r.Value >= t.Low && r.Value <= t.High
}
