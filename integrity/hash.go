package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/message"
)

// HashProvider derives a printable content key from bytes
type HashProvider interface {
	Derive(data []byte) string
	Type() message.HashType
}

type digestProvider struct {
	kind    message.HashType
	newHash func() hash.Hash
}

func (p digestProvider) Derive(data []byte) string {
	h := p.newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (p digestProvider) Type() message.HashType { return p.kind }

type noneProvider struct{}

func (noneProvider) Derive(data []byte) string { return hex.EncodeToString(data) }
func (noneProvider) Type() message.HashType { return message.HashNone }

func newBlake2b256() hash.Hash {
	// New256 only fails for keys longer than 64 bytes
	h, _ := blake2b.New256(nil)
	return h
}

// NewHashProvider returns the provider for t
func NewHashProvider(t message.HashType) (HashProvider, error) {
	switch t {
	case message.HashSHA256:
		return digestProvider{kind: t, newHash: sha256.New}, nil
	case message.HashSHA3:
		return digestProvider{kind: t, newHash: sha3.New256}, nil
	case message.HashBlake2b256:
		return digestProvider{kind: t, newHash: newBlake2b256}, nil
	case message.HashMD5:
		return digestProvider{kind: t, newHash: md5.New}, nil
	case message.HashNone:
		return noneProvider{}, nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("unsupported hash type %q", t),
		"integrity", "NewHashProvider", "select hash provider")
}
