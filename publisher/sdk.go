package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/semtrust/annotator"
	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/message"
	"github.com/c360/semtrust/transport"
)

// AnnotationRecorder counts produced annotations; metric.Metrics satisfies it
type AnnotationRecorder interface {
	RecordAnnotation(kind string, satisfied bool)
}

// SDK annotates payloads and publishes the bundles
type SDK struct {
	annotators []annotator.Annotator
	transport  transport.Transport
	topic      string
	logger     *slog.Logger
	recorder   AnnotationRecorder
}

// SDKOption configures an SDK
type SDKOption func(*SDK)

// WithTopic overrides the annotations topic
func WithTopic(topic string) SDKOption {
	return func(s *SDK) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithSDKLogger sets the logger
func WithSDKLogger(logger *slog.Logger) SDKOption {
	return func(s *SDK) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAnnotationRecorder reports every annotation produced
func WithAnnotationRecorder(r AnnotationRecorder) SDKOption {
	return func(s *SDK) {
		s.recorder = r
	}
}

// NewSDK returns an SDK publishing on t
func NewSDK(annotators []annotator.Annotator, t transport.Transport, opts ...SDKOption) (*SDK, error) {
	if len(annotators) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no annotators", errors.ErrMissingConfig),
			"publisher", "NewSDK", "check annotators")
	}
	if t == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no transport", errors.ErrMissingConfig),
			"publisher", "NewSDK", "check transport")
	}
	s := &SDK{
		annotators: annotators,
		transport:  t,
		topic:      transport.AnnotationsTopic,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "publisher-sdk")
	return s, nil
}

// Create runs every annotator over data and publishes the signed bundle.
// Any annotator failure aborts the bundle; nothing partial is published.
func (s *SDK) Create(ctx context.Context, data []byte) (transport.Address, error) {
	list := message.AnnotationList{Items: make([]message.Annotation, 0, len(s.annotators))}
	for _, a := range s.annotators {
		ann, err := a.Annotate(ctx, data)
		if err != nil {
			return "", errors.Wrap(err, "publisher", "Create", "annotate "+a.Kind().String())
		}
		list.Items = append(list.Items, ann)
	}

	wrapper, err := message.WrapAnnotations(list)
	if err != nil {
		return "", errors.WrapInvalid(err, "publisher", "Create", "wrap annotations")
	}
	body, err := wrapper.Bytes()
	if err != nil {
		return "", errors.WrapInvalid(err, "publisher", "Create", "marshal wrapper")
	}

	addr, err := s.transport.Publish(ctx, s.topic, body, true)
	if err != nil {
		return "", errors.Wrap(err, "publisher", "Create", "publish annotations")
	}

	if s.recorder != nil {
		for _, a := range list.Items {
			s.recorder.RecordAnnotation(a.Kind.String(), a.IsSatisfied)
		}
	}
	s.logger.Debug("annotations published", "key", list.Key(), "count", len(list.Items), "address", addr)
	return addr, nil
}
