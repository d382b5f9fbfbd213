// Package classifier sorts untyped log payloads into readings and
// annotation bundles by which strict decoder accepts them.
package classifier

import (
	"log/slog"

	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/message"
)

// Kind is the classification outcome
type Kind int

const (
	KindUnrecognized Kind = iota
	KindReading
	KindAnnotations
)

func (k Kind) String() string {
	switch k {
	case KindReading:
		return "reading"
	case KindAnnotations:
		return "annotations"
	default:
		return "unrecognized"
	}
}

// Result carries the decoded payload for the matching kind
type Result struct {
	Kind        Kind
	Reading     message.ReadingRecord
	Annotations message.AnnotationList
	Reason      string
}

// Recorder receives one call per classified message; metric.Metrics satisfies it
type Recorder interface {
	RecordClassified(kind string)
}

// Classifier is stateless apart from its collaborators and safe for concurrent use
type Classifier struct {
	hash     integrity.HashProvider
	logger   *slog.Logger
	recorder Recorder
}

// New creates a classifier. logger and recorder may be nil.
func New(hash integrity.HashProvider, logger *slog.Logger, recorder Recorder) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{hash: hash, logger: logger.With("component", "classifier"), recorder: recorder}
}

// Classify tries Reading first, then Wrapper -> base64 -> AnnotationList.
// Nothing here returns an error: foreign or malformed entries are reported
// as KindUnrecognized and logged at warn.
func (c *Classifier) Classify(raw []byte, address string) Result {
	res := c.classify(raw, address)

	switch res.Kind {
	case KindReading:
		c.logger.Debug("found reading", "key", res.Reading.Key, "address", address)
	case KindAnnotations:
		c.logger.Debug("found annotations", "key", res.Annotations.Key(),
			"count", len(res.Annotations.Items), "address", address)
	default:
		c.logger.Warn("dropping unrecognized message", "address", address, "reason", res.Reason)
	}
	if c.recorder != nil {
		c.recorder.RecordClassified(res.Kind.String())
	}
	return res
}

func (c *Classifier) classify(raw []byte, address string) Result {
	if r, ok := message.DecodeReading(raw); ok {
		return Result{
			Kind: KindReading,
			Reading: message.ReadingRecord{
				Key:     c.hash.Derive(raw),
				Address: address,
				Reading: r,
			},
		}
	}

	w, ok := message.DecodeWrapper(raw)
	if !ok {
		return Result{Reason: "not a reading or annotation wrapper"}
	}
	content, err := w.ContentBytes()
	if err != nil {
		return Result{Reason: "wrapper content is not base64: " + err.Error()}
	}
	list, ok := message.DecodeAnnotationList(content)
	if !ok {
		return Result{Reason: "wrapper content is not an annotation list"}
	}
	if err := list.Validate(); err != nil {
		return Result{Reason: "protocol violation: " + err.Error()}
	}
	return Result{Kind: KindAnnotations, Annotations: list}
}
