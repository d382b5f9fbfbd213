package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an annotation attests to
type Kind string

// Known annotation kinds
const (
	KindThreshold Kind = "threshold"
	KindSource    Kind = "source"
	KindTLS       Kind = "tls"
	KindPKI       Kind = "pki"
)

// Kinds lists every supported kind in a stable order
func Kinds() []Kind {
	return []Kind{KindThreshold, KindSource, KindTLS, KindPKI}
}

// ParseKind validates s against the closed set of kinds
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	switch k {
	case KindThreshold, KindSource, KindTLS, KindPKI:
		return k, nil
	}
	return "", fmt.Errorf("unknown annotation kind %q", s)
}

func (k Kind) String() string { return string(k) }

// HashType names the digest used to derive content keys
type HashType string

// Supported hash types
const (
	HashSHA256     HashType = "sha256"
	HashSHA3       HashType = "sha3-256"
	HashBlake2b256 HashType = "blake2b-256"
	HashMD5        HashType = "md5"
	HashNone       HashType = "none"
)

// Reading is one sensor observation
type Reading struct {
	SensorID  string    `json:"id"`
	Value     uint8     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReading stamps a reading with the current UTC time
func NewReading(sensorID string, value uint8) Reading {
	return Reading{SensorID: sensorID, Value: value, Timestamp: time.Now().UTC()}
}

// Bytes is the JSON encoding published on the log
func (r Reading) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// Signable wraps the JSON of a reading with a producer signature over it
type Signable struct {
	Seed      string `json:"seed"`
	Signature string `json:"signature"`
}

// Bytes is the JSON encoding of the envelope
func (s Signable) Bytes() ([]byte, error) {
	return json.Marshal(s)
}

// Annotation is a signed claim about the reading identified by Key
type Annotation struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"`
	Hash        HashType  `json:"hash"`
	Host        string    `json:"host"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	IsSatisfied bool      `json:"isSatisfied"`
	Signature   string    `json:"signature"`
}

// NewAnnotation builds an unsigned annotation with a fresh id
func NewAnnotation(key string, hash HashType, host string, kind Kind, satisfied bool) Annotation {
	return Annotation{
		ID:          uuid.New(),
		Key:         key,
		Hash:        hash,
		Host:        host,
		Kind:        kind,
		Timestamp:   time.Now().UTC(),
		IsSatisfied: satisfied,
	}
}

// SigningBytes is the canonical serialization covered by the signature:
// the annotation JSON with an empty signature field.
func (a Annotation) SigningBytes() ([]byte, error) {
	a.Signature = ""
	return json.Marshal(a)
}

// AnnotationList bundles annotations about a single reading
type AnnotationList struct {
	Items []Annotation `json:"items"`
}

// Key is the reading key that labels the bundle, empty for an empty list
func (l AnnotationList) Key() string {
	if len(l.Items) == 0 {
		return ""
	}
	return l.Items[0].Key
}

// Validate enforces the bundle invariant: non-empty and one reading key
func (l AnnotationList) Validate() error {
	if len(l.Items) == 0 {
		return fmt.Errorf("empty annotation list")
	}
	key := l.Items[0].Key
	for i, a := range l.Items[1:] {
		if a.Key != key {
			return fmt.Errorf("item %d key %q does not match bundle key %q", i+1, a.Key, key)
		}
	}
	return nil
}

// ReadingRecord is a classified reading as kept by the consumer
type ReadingRecord struct {
	Key     string  `json:"id"`
	Address string  `json:"address"`
	Reading Reading `json:"reading"`
}

// AnnotationRecord is one annotation as kept by the consumer
type AnnotationRecord struct {
	ReadingKey string     `json:"reading_id"`
	Annotation Annotation `json:"annotation"`
}
