package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/semtrust/errors"
)

// Well-known topics
const (
	BaseTopic        = "base"
	AnnotationsTopic = "annotations"
)

// StreamPrefix prefixes every author stream name
const StreamPrefix = "SEMTRUST_"

// Address locates one message: "<stream>:<sequence>"
type Address string

// NewAddress builds the address of seq in author's stream
func NewAddress(author string, seq uint64) Address {
	return Address(fmt.Sprintf("%s%s:%d", StreamPrefix, author, seq))
}

// ParseAddress splits an address into the author id and sequence
func ParseAddress(a Address) (author string, seq uint64, err error) {
	stream, num, ok := strings.Cut(string(a), ":")
	if !ok || !strings.HasPrefix(stream, StreamPrefix) || len(stream) == len(StreamPrefix) {
		return "", 0, errors.WrapInvalid(fmt.Errorf("%w: address %q", errors.ErrInvalidData, a),
			"transport", "ParseAddress", "parse stream")
	}
	seq, err = strconv.ParseUint(num, 10, 64)
	if err != nil || seq == 0 {
		return "", 0, errors.WrapInvalid(fmt.Errorf("%w: address %q", errors.ErrInvalidData, a),
			"transport", "ParseAddress", "parse sequence")
	}
	return strings.TrimPrefix(stream, StreamPrefix), seq, nil
}

// String implements fmt.Stringer
func (a Address) String() string { return string(a) }

// Message is a data message delivered to a participant
type Message struct {
	Address   Address
	Topic     string
	Payload   []byte
	Signed    bool
	Publisher string // hex public key of the signer, empty when unsigned
}

// Transport is the ordered message source and sink the ingest loop and publisher use
type Transport interface {
	// Publish appends payload under topic and returns its address.
	Publish(ctx context.Context, topic string, payload []byte, signed bool) (Address, error)

	// ReceiveNext returns the next data message after the session cursor,
	// or nil, nil when none is available yet.
	ReceiveNext(ctx context.Context) (*Message, error)

	// Backup serialises the session and encrypts it under passphrase.
	Backup(ctx context.Context, passphrase string) ([]byte, error)

	// StreamAddress returns the announcement address of the joined stream.
	StreamAddress() Address
}

// RecordKind distinguishes control records from data records in a stream
type RecordKind string

// Record kinds
const (
	KindAnnouncement RecordKind = "announcement"
	KindSubscription RecordKind = "subscription"
	KindKeyload      RecordKind = "keyload"
	KindData         RecordKind = "data"
)

// Record is one entry of an author stream as stored by a Log
type Record struct {
	Seq       uint64
	Kind      RecordKind
	Topic     string
	Publisher string
	Signature string
	Payload   []byte
}

// Log is the append-only store behind an Endpoint. Sequences start at 1 and
// are assigned by Append.
type Log interface {
	// Ensure creates the author's stream if it does not exist.
	Ensure(ctx context.Context, author string) error

	// Append stores rec and returns its sequence. rec.Seq is ignored.
	Append(ctx context.Context, author string, rec Record) (uint64, error)

	// Next returns the first record with a sequence greater than after,
	// or nil, nil when there is none yet.
	Next(ctx context.Context, author string, after uint64) (*Record, error)

	// Get returns the record at seq.
	Get(ctx context.Context, author string, seq uint64) (*Record, error)
}
