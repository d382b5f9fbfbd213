package transport

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"slices"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/integrity"
)

// Session is the resumable state of one stream participant
type Session struct {
	Identity     string   `json:"identity"` // hex ed25519 seed
	Author       string   `json:"author,omitempty"`
	Announcement Address  `json:"announcement,omitempty"`
	Cursor       uint64   `json:"cursor"`
	Branches     []string `json:"branches,omitempty"`
	Subscribers  []string `json:"subscribers,omitempty"`
}

func (s *Session) joined() bool {
	return s.Author != ""
}

func (s *Session) addBranch(topic string) {
	if !slices.Contains(s.Branches, topic) {
		s.Branches = append(s.Branches, topic)
	}
}

func (s *Session) addSubscriber(pub string) {
	if !slices.Contains(s.Subscribers, pub) {
		s.Subscribers = append(s.Subscribers, pub)
	}
}

func (s *Session) clone() Session {
	c := *s
	c.Branches = slices.Clone(s.Branches)
	c.Subscribers = slices.Clone(s.Subscribers)
	return c
}

func openSession(blob []byte, passphrase string) (Session, *integrity.Ed25519Provider, error) {
	data, err := integrity.Open(blob, passphrase)
	if err != nil {
		return Session{}, nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, nil, errors.WrapFatal(err, "transport", "Restore", "unmarshal session")
	}
	seed, err := hex.DecodeString(s.Identity)
	if err != nil || len(seed) != ed25519.SeedSize {
		return Session{}, nil, errors.WrapFatal(errors.ErrDataCorrupted, "transport", "Restore", "decode identity")
	}
	return s, integrity.NewEd25519Provider(ed25519.NewKeyFromSeed(seed)), nil
}

// AuthorID derives the stream author id from a public key
func AuthorID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)[:16]
}
