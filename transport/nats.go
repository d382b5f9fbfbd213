package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	semerrors "github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/natsclient"
)

// Header names carried on every JetStream record
const (
	HeaderKind      = "Semtrust-Type"
	HeaderTopic     = "Semtrust-Topic"
	HeaderPublisher = "Semtrust-Publisher"
	HeaderSignature = "Semtrust-Signature"
)

// DefaultFetchWait bounds how long Next waits for a record
const DefaultFetchWait = time.Second

// NATSLog is a Log over JetStream: one stream per author named
// SEMTRUST_<author> with subjects semtrust.<author>.<topic>.
type NATSLog struct {
	client    *natsclient.Client
	fetchWait time.Duration
	maxAge    time.Duration

	mu        sync.Mutex
	consumers map[string]*cursorConsumer
}

type cursorConsumer struct {
	consumer jetstream.Consumer
	last     uint64
}

var _ Log = (*NATSLog)(nil)

// NATSOption configures a NATSLog
type NATSOption func(*NATSLog)

// WithFetchWait sets the maximum wait of a single fetch
func WithFetchWait(d time.Duration) NATSOption {
	return func(l *NATSLog) {
		if d > 0 {
			l.fetchWait = d
		}
	}
}

// WithMaxAge limits how long records are retained; zero keeps them forever
func WithMaxAge(d time.Duration) NATSOption {
	return func(l *NATSLog) {
		l.maxAge = d
	}
}

// NewNATSLog returns a Log over a connected client
func NewNATSLog(client *natsclient.Client, opts ...NATSOption) *NATSLog {
	l := &NATSLog{
		client:    client,
		fetchWait: DefaultFetchWait,
		consumers: make(map[string]*cursorConsumer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StreamName returns the JetStream stream that holds author's records
func StreamName(author string) string {
	return StreamPrefix + author
}

// Subject returns the subject a topic is published on
func Subject(author, topic string) string {
	return "semtrust." + author + "." + subjectToken(topic)
}

func subjectToken(topic string) string {
	if topic == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, topic)
}

// Ensure creates or updates the author's stream
func (l *NATSLog) Ensure(ctx context.Context, author string) error {
	_, err := l.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:        StreamName(author),
		Description: "SemTrust stream " + author,
		Subjects:    []string{"semtrust." + author + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      l.maxAge,
	})
	return err
}

// Append publishes rec with its metadata in headers
func (l *NATSLog) Append(ctx context.Context, author string, rec Record) (uint64, error) {
	msg := nats.NewMsg(Subject(author, rec.Topic))
	msg.Data = rec.Payload
	msg.Header.Set(HeaderKind, string(rec.Kind))
	msg.Header.Set(HeaderTopic, rec.Topic)
	if rec.Signature != "" {
		msg.Header.Set(HeaderPublisher, rec.Publisher)
		msg.Header.Set(HeaderSignature, rec.Signature)
	}

	ack, err := l.client.PublishMsg(ctx, msg)
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// Next fetches one record after the given sequence with an ordered consumer.
// The consumer is reused while reads stay contiguous.
func (l *NATSLog) Next(ctx context.Context, author string, after uint64) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cc := l.consumers[author]
	if cc == nil || cc.last != after {
		cfg := jetstream.OrderedConsumerConfig{DeliverPolicy: jetstream.DeliverAllPolicy}
		if after > 0 {
			cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
			cfg.OptStartSeq = after + 1
		}
		consumer, err := l.client.OrderedConsumer(ctx, StreamName(author), cfg)
		if err != nil {
			return nil, err
		}
		cc = &cursorConsumer{consumer: consumer, last: after}
		l.consumers[author] = cc
	}

	batch, err := cc.consumer.Fetch(1, jetstream.FetchMaxWait(l.fetchWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}

	var rec *Record
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			return nil, semerrors.WrapTransient(err, "NATSLog", "Next", "read metadata")
		}
		rec = &Record{
			Seq:       meta.Sequence.Stream,
			Kind:      RecordKind(msg.Headers().Get(HeaderKind)),
			Topic:     msg.Headers().Get(HeaderTopic),
			Publisher: msg.Headers().Get(HeaderPublisher),
			Signature: msg.Headers().Get(HeaderSignature),
			Payload:   msg.Data(),
		}
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		delete(l.consumers, author)
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	cc.last = rec.Seq
	return rec, nil
}

// Get loads the record at seq directly from the stream
func (l *NATSLog) Get(ctx context.Context, author string, seq uint64) (*Record, error) {
	stream, err := l.client.GetStream(ctx, StreamName(author))
	if err != nil {
		return nil, err
	}
	raw, err := stream.GetMsg(ctx, seq)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, semerrors.WrapInvalid(semerrors.ErrKeyNotFound, "NATSLog", "Get", "find record")
		}
		return nil, err
	}
	return &Record{
		Seq:       raw.Sequence,
		Kind:      RecordKind(raw.Header.Get(HeaderKind)),
		Topic:     raw.Header.Get(HeaderTopic),
		Publisher: raw.Header.Get(HeaderPublisher),
		Signature: raw.Header.Get(HeaderSignature),
		Payload:   raw.Data,
	}, nil
}
