package transport

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/integrity"
)

// Recorder receives publish telemetry; metric.Metrics satisfies it
type Recorder interface {
	RecordPublished(topic string)
}

// Option configures an Endpoint
type Option func(*Endpoint)

// WithLogger sets the endpoint logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Endpoint) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder reports published messages
func WithRecorder(r Recorder) Option {
	return func(e *Endpoint) {
		e.recorder = r
	}
}

// Endpoint is one participant of an author stream: the author that created
// it or a subscriber that joined it. It implements Transport over any Log.
type Endpoint struct {
	log      Log
	identity *integrity.Ed25519Provider
	logger   *slog.Logger
	recorder Recorder

	mu      sync.Mutex
	session Session

	sealMu sync.Mutex
	sealed sealedSession
}

// sealedSession is the last Backup output and the session JSON it encrypts
type sealedSession struct {
	plain      []byte
	passphrase string
	blob       []byte
}

var _ Transport = (*Endpoint)(nil)

type announcement struct {
	Author string `json:"author"` // hex public key
	Topic  string `json:"topic"`
}

type subscription struct {
	Subscriber string `json:"subscriber"` // hex public key
	Topic      string `json:"topic"`
}

type keyload struct {
	Topic       string   `json:"topic"`
	Subscribers []string `json:"subscribers"`
}

func newEndpoint(log Log, identity *integrity.Ed25519Provider, session Session, opts []Option) *Endpoint {
	e := &Endpoint{
		log:      log,
		identity: identity,
		logger:   slog.Default(),
		session:  session,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "transport")
	return e
}

// CreateStream makes identity the author of a new stream and publishes its
// announcement under topic. The announcement address is the stream address.
func CreateStream(
	ctx context.Context, log Log, identity *integrity.Ed25519Provider, topic string, opts ...Option,
) (*Endpoint, error) {
	author := AuthorID(identity.PublicKey())
	if err := log.Ensure(ctx, author); err != nil {
		return nil, errors.WrapTransient(err, "transport", "CreateStream", "ensure stream")
	}

	e := newEndpoint(log, identity, Session{
		Identity: hex.EncodeToString(identity.Seed()),
		Author:   author,
	}, opts)

	payload, err := json.Marshal(announcement{Author: e.publicKey(), Topic: topic})
	if err != nil {
		return nil, errors.WrapFatal(err, "transport", "CreateStream", "marshal announcement")
	}
	addr, err := e.append(ctx, KindAnnouncement, topic, payload, true)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.session.Announcement = addr
	e.session.addBranch(topic)
	e.mu.Unlock()

	e.logger.Info("stream created", "announcement", addr)
	return e, nil
}

// NewSubscriber returns an endpoint that must Join a stream before use
func NewSubscriber(log Log, identity *integrity.Ed25519Provider, opts ...Option) *Endpoint {
	return newEndpoint(log, identity, Session{Identity: hex.EncodeToString(identity.Seed())}, opts)
}

// Restore decrypts a Backup and resumes after the saved cursor
func Restore(log Log, blob []byte, passphrase string, opts ...Option) (*Endpoint, error) {
	session, identity, err := openSession(blob, passphrase)
	if err != nil {
		return nil, err
	}
	e := newEndpoint(log, identity, session, opts)
	e.logger.Info("session restored", "author", session.Author, "cursor", session.Cursor)
	return e, nil
}

// PublicKey returns the endpoint's hex public key, used as the subscriber identifier
func (e *Endpoint) PublicKey() string {
	return e.publicKey()
}

func (e *Endpoint) publicKey() string {
	return hex.EncodeToString(e.identity.PublicKey())
}

// Session returns a copy of the current session
func (e *Endpoint) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// StreamAddress returns the announcement address of the joined stream
func (e *Endpoint) StreamAddress() Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Announcement
}

func (e *Endpoint) author() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.joined() {
		return "", errors.WrapInvalid(errors.ErrNotJoined, "transport", "Endpoint", "resolve stream")
	}
	return e.session.Author, nil
}

func (e *Endpoint) isAuthor() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Author == AuthorID(e.identity.PublicKey())
}

func (e *Endpoint) append(ctx context.Context, kind RecordKind, topic string, payload []byte, signed bool) (Address, error) {
	author, err := e.author()
	if err != nil {
		return "", err
	}

	rec := Record{Kind: kind, Topic: topic, Payload: payload}
	if signed {
		sig, err := e.identity.Sign(payload)
		if err != nil {
			return "", errors.WrapFatal(err, "transport", "Publish", "sign payload")
		}
		rec.Publisher = e.publicKey()
		rec.Signature = sig
	}

	seq, err := e.log.Append(ctx, author, rec)
	if err != nil {
		return "", errors.WrapTransient(err, "transport", "Publish", "append "+string(kind))
	}
	if e.recorder != nil {
		e.recorder.RecordPublished(topic)
	}
	return NewAddress(author, seq), nil
}

// Publish appends a data message. The author opens a branch for an unseen topic.
func (e *Endpoint) Publish(ctx context.Context, topic string, payload []byte, signed bool) (Address, error) {
	addr, err := e.append(ctx, KindData, topic, payload, signed)
	if err != nil {
		return "", err
	}
	if e.isAuthor() {
		e.mu.Lock()
		e.session.addBranch(topic)
		e.mu.Unlock()
	}
	e.logger.Debug("published", "topic", topic, "address", addr, "signed", signed)
	return addr, nil
}

// ReceiveNext returns the next data message after the cursor. Control records
// are consumed silently; signed records with a bad signature are dropped.
func (e *Endpoint) ReceiveNext(ctx context.Context) (*Message, error) {
	author, err := e.author()
	if err != nil {
		return nil, err
	}

	for {
		e.mu.Lock()
		cursor := e.session.Cursor
		e.mu.Unlock()

		rec, err := e.log.Next(ctx, author, cursor)
		if err != nil {
			return nil, errors.WrapTransient(err, "transport", "ReceiveNext", "fetch next record")
		}
		if rec == nil {
			return nil, nil
		}

		e.mu.Lock()
		e.session.Cursor = rec.Seq
		e.mu.Unlock()

		addr := NewAddress(author, rec.Seq)
		if rec.Kind != KindData {
			e.observeControl(rec, addr)
			continue
		}

		signed := rec.Signature != ""
		if signed && !e.verify(rec) {
			e.logger.Warn("dropping message with invalid signature",
				"address", addr, "publisher", rec.Publisher, "topic", rec.Topic)
			continue
		}
		return &Message{
			Address:   addr,
			Topic:     rec.Topic,
			Payload:   rec.Payload,
			Signed:    signed,
			Publisher: rec.Publisher,
		}, nil
	}
}

func (e *Endpoint) observeControl(rec *Record, addr Address) {
	if rec.Kind != KindKeyload || !e.verify(rec) {
		return
	}
	var kl keyload
	if err := json.Unmarshal(rec.Payload, &kl); err != nil {
		return
	}
	me := e.publicKey()
	for _, sub := range kl.Subscribers {
		if sub == me {
			e.mu.Lock()
			e.session.addBranch(kl.Topic)
			e.mu.Unlock()
			e.logger.Info("subscription accepted", "topic", kl.Topic, "keyload", addr)
		}
	}
}

func (e *Endpoint) verify(rec *Record) bool {
	pub, err := integrity.ParsePublicKey(rec.Publisher)
	if err != nil {
		return false
	}
	ok, err := integrity.VerifyWithKey(pub, rec.Payload, rec.Signature)
	return err == nil && ok
}

// fetchSigned loads the record at addr and checks its kind and signature
func (e *Endpoint) fetchSigned(ctx context.Context, addr Address, kind RecordKind) (string, *Record, error) {
	author, seq, err := ParseAddress(addr)
	if err != nil {
		return "", nil, err
	}
	rec, err := e.log.Get(ctx, author, seq)
	if err != nil {
		return "", nil, errors.WrapTransient(err, "transport", "fetch", "get "+string(addr))
	}
	if rec.Kind != kind {
		return "", nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s is a %s, want %s", errors.ErrProtocol, addr, rec.Kind, kind),
			"transport", "fetch", "check record kind")
	}
	if !e.verify(rec) {
		return "", nil, errors.WrapInvalid(errors.ErrInvalidSignature, "transport", "fetch", "verify "+string(addr))
	}
	return author, rec, nil
}

// Join binds a subscriber to the stream announced at addr and starts reading after the announcement
func (e *Endpoint) Join(ctx context.Context, addr Address) error {
	author, rec, err := e.fetchSigned(ctx, addr, KindAnnouncement)
	if err != nil {
		return err
	}
	var ann announcement
	if err := json.Unmarshal(rec.Payload, &ann); err != nil {
		return errors.WrapInvalid(err, "transport", "Join", "decode announcement")
	}
	if ann.Author != rec.Publisher || !authorMatches(author, rec.Publisher) {
		return errors.WrapInvalid(fmt.Errorf("%w: announcement not signed by stream author", errors.ErrProtocol),
			"transport", "Join", "check author")
	}

	e.mu.Lock()
	e.session.Author = author
	e.session.Announcement = addr
	if e.session.Cursor < rec.Seq {
		e.session.Cursor = rec.Seq
	}
	e.mu.Unlock()

	e.logger.Info("joined stream", "announcement", addr, "topic", ann.Topic)
	return nil
}

func authorMatches(author, publisher string) bool {
	pub, err := integrity.ParsePublicKey(publisher)
	return err == nil && AuthorID(pub) == author
}

// SendSubscription publishes a subscription request for topic and returns its
// address, which the author passes to AcceptSubscription
func (e *Endpoint) SendSubscription(ctx context.Context, topic string) (Address, error) {
	payload, err := json.Marshal(subscription{Subscriber: e.publicKey(), Topic: topic})
	if err != nil {
		return "", errors.WrapFatal(err, "transport", "SendSubscription", "marshal subscription")
	}
	return e.append(ctx, KindSubscription, topic, payload, true)
}

// AcceptSubscription validates the subscription at addr, opens the topic branch
// and publishes a keyload granting the subscriber access. Only the author may accept.
// identifier, when set, must match the subscriber key in the request.
func (e *Endpoint) AcceptSubscription(ctx context.Context, addr Address, identifier, topic string) (Address, error) {
	if !e.isAuthor() {
		return "", errors.WrapInvalid(fmt.Errorf("%w: only the stream author accepts subscriptions", errors.ErrProtocol),
			"transport", "AcceptSubscription", "check role")
	}
	author, rec, err := e.fetchSigned(ctx, addr, KindSubscription)
	if err != nil {
		return "", err
	}
	if own, _ := e.author(); author != own {
		return "", errors.WrapInvalid(fmt.Errorf("%w: subscription belongs to stream %s", errors.ErrProtocol, author),
			"transport", "AcceptSubscription", "check stream")
	}

	var sub subscription
	if err := json.Unmarshal(rec.Payload, &sub); err != nil {
		return "", errors.WrapInvalid(err, "transport", "AcceptSubscription", "decode subscription")
	}
	if sub.Subscriber != rec.Publisher || (identifier != "" && identifier != sub.Subscriber) {
		return "", errors.WrapInvalid(fmt.Errorf("%w: subscriber identity mismatch", errors.ErrProtocol),
			"transport", "AcceptSubscription", "check subscriber")
	}
	if topic == "" {
		topic = sub.Topic
	}

	payload, err := json.Marshal(keyload{Topic: topic, Subscribers: []string{sub.Subscriber}})
	if err != nil {
		return "", errors.WrapFatal(err, "transport", "AcceptSubscription", "marshal keyload")
	}
	kl, err := e.append(ctx, KindKeyload, topic, payload, true)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.session.addBranch(topic)
	e.session.addSubscriber(sub.Subscriber)
	e.mu.Unlock()

	e.logger.Info("subscription processed", "subscriber", sub.Subscriber, "topic", topic, "keyload", kl)
	return kl, nil
}

// Backup serialises and encrypts the session. An unchanged session returns
// the previous blob without deriving a new key.
func (e *Endpoint) Backup(_ context.Context, passphrase string) ([]byte, error) {
	e.mu.Lock()
	s := e.session.clone()
	e.mu.Unlock()

	plain, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WrapFatal(err, "transport", "Backup", "marshal session")
	}

	e.sealMu.Lock()
	defer e.sealMu.Unlock()
	if e.sealed.blob != nil && e.sealed.passphrase == passphrase && bytes.Equal(e.sealed.plain, plain) {
		return bytes.Clone(e.sealed.blob), nil
	}
	blob, err := integrity.Seal(plain, passphrase)
	if err != nil {
		return nil, err
	}
	e.sealed = sealedSession{plain: plain, passphrase: passphrase, blob: blob}
	return bytes.Clone(blob), nil
}
