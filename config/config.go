package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	semerrors "github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/message"
	"github.com/c360/semtrust/pkg/tlsutil"
)

// Transport kinds
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Persistence backends
const (
	BackendFile   = "file"
	BackendKV     = "kv"
	BackendSQLite = "sqlite"
	BackendObject = "object"
)

const redacted = "***"

// Config is the complete configuration of a publisher or subscriber
type Config struct {
	Version     string            `json:"version,omitempty"`
	Hash        HashConfig        `json:"hash"`
	Signature   SignatureConfig   `json:"signature"`
	Annotators  []message.Kind    `json:"annotators"`
	Threshold   ThresholdConfig   `json:"threshold"`
	NATS        NATSConfig        `json:"nats"`
	Transport   TransportConfig   `json:"transport"`
	Persistence PersistenceConfig `json:"persistence"`
	Ingest      IngestConfig      `json:"ingest"`
	HTTP        HTTPConfig        `json:"http"`
	Publisher   PublisherConfig   `json:"publisher"`
}

// HashConfig selects the key derivation hash
type HashConfig struct {
	Type message.HashType `json:"type"`
}

// SignatureConfig locates the ed25519 key files
type SignatureConfig struct {
	PrivateKeyPath string `json:"private_key_path"`
	PublicKeyPath  string `json:"public_key_path"`
	// ProducerKeyPath is the producer public key the pki annotator checks
	// Signable envelopes against; defaults to PublicKeyPath.
	ProducerKeyPath string `json:"producer_key_path,omitempty"`
}

// ThresholdConfig is the inclusive accepted range of the threshold annotator
type ThresholdConfig struct {
	Low  uint8 `json:"low"`
	High uint8 `json:"high"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// TransportConfig selects and tunes the message log
type TransportConfig struct {
	Kind       string `json:"kind"`
	Passphrase string `json:"passphrase"`
	// Author pins the stream a subscriber accepts; empty accepts any announcement
	Author    string        `json:"author,omitempty"`
	FetchWait time.Duration `json:"fetch_wait,omitempty"`
	MaxAge    time.Duration `json:"max_age,omitempty"`
}

// PersistenceConfig selects where state snapshots live
type PersistenceConfig struct {
	Backend    string                `json:"backend"`
	Dir        string                `json:"dir,omitempty"`
	Bucket     string                `json:"bucket,omitempty"`
	SQLitePath string                `json:"sqlite_path,omitempty"`
	Retry      semerrors.RetryConfig `json:"retry"`
}

// IngestConfig tunes the subscriber loop
type IngestConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
}

// HTTPConfig is the listener of either binary
type HTTPConfig struct {
	Addr         string               `json:"addr"`
	PushInterval time.Duration        `json:"push_interval,omitempty"`
	ViewTTL      time.Duration        `json:"view_ttl,omitempty"` // 0 disables the view cache
	TLS          tlsutil.ServerConfig `json:"tls,omitempty"`
}

// SensorConfig is one mock sensor
type SensorConfig struct {
	ID  string `json:"id"`
	Bad bool   `json:"bad,omitempty"`
}

// PublisherConfig drives the producer loop, and tells the subscriber where
// to find the announcement exchange
type PublisherConfig struct {
	Sensors         []SensorConfig `json:"sensors"`
	Interval        time.Duration  `json:"interval"`
	Workers         int            `json:"workers"`
	QueueSize       int            `json:"queue_size"`
	AnnouncementURL string         `json:"announcement_url,omitempty"`
	// TLS applies to the subscriber's client for https announcement URLs
	TLS tlsutil.ClientConfig `json:"tls,omitempty"`
}

// Default returns the configuration of the original two-sensor demo
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Hash:    HashConfig{Type: message.HashSHA256},
		Signature: SignatureConfig{
			PrivateKeyPath: "keys/private.key",
			PublicKeyPath:  "keys/public.key",
		},
		Annotators: []message.Kind{message.KindThreshold, message.KindSource, message.KindPKI},
		Threshold:  ThresholdConfig{Low: 180, High: 200},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Transport: TransportConfig{
			Kind:      TransportNATS,
			FetchWait: time.Second,
		},
		Persistence: PersistenceConfig{
			Backend: BackendFile,
			Dir:     "data",
			Retry:   semerrors.DefaultRetryConfig(),
		},
		Ingest: IngestConfig{PollInterval: time.Second},
		HTTP:   HTTPConfig{Addr: ":8900", PushInterval: 2 * time.Second, ViewTTL: 500 * time.Millisecond},
		Publisher: PublisherConfig{
			Sensors: []SensorConfig{
				{ID: "Flow_Sensor_1"},
				{ID: "Flow_Sensor_2", Bad: true},
			},
			Interval:        10 * time.Second,
			Workers:         4,
			QueueSize:       64,
			AnnouncementURL: "http://localhost:8900",
		},
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", semerrors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the configuration and fills derived defaults
func (c *Config) Validate() error {
	if _, err := integrity.NewHashProvider(c.Hash.Type); err != nil {
		return invalid("hash.type %q", c.Hash.Type)
	}

	if c.Signature.PrivateKeyPath == "" || c.Signature.PublicKeyPath == "" {
		return invalid("signature key paths are required")
	}
	if c.Signature.ProducerKeyPath == "" {
		c.Signature.ProducerKeyPath = c.Signature.PublicKeyPath
	}

	if len(c.Annotators) == 0 {
		return invalid("at least one annotator is required")
	}
	for _, k := range c.Annotators {
		if _, err := message.ParseKind(string(k)); err != nil {
			return invalid("annotator %q", k)
		}
	}
	if c.Threshold.Low > c.Threshold.High {
		return invalid("threshold.low %d above threshold.high %d", c.Threshold.Low, c.Threshold.High)
	}

	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validatePersistence(); err != nil {
		return err
	}

	if c.Ingest.PollInterval <= 0 {
		return invalid("ingest.poll_interval must be positive")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	if c.HTTP.ViewTTL < 0 {
		return invalid("http.view_ttl must not be negative")
	}
	if err := c.HTTP.TLS.Validate(); err != nil {
		return invalid("http.%v", err)
	}
	if err := c.Publisher.TLS.Validate(); err != nil {
		return invalid("publisher.%v", err)
	}
	return c.validatePublisher()
}

func (c *Config) validateTransport() error {
	switch c.Transport.Kind {
	case TransportMemory:
	case TransportNATS:
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls required for the nats transport")
		}
		for _, u := range c.NATS.URLs {
			if strings.TrimSpace(u) == "" {
				return invalid("empty nats url")
			}
		}
	default:
		return invalid("transport.kind %q", c.Transport.Kind)
	}
	if c.Transport.Passphrase == "" {
		return invalid("transport.passphrase is required to back up the session")
	}
	if c.Transport.FetchWait < 0 || c.Transport.MaxAge < 0 {
		return invalid("transport durations must not be negative")
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid("nats.tls cert_file and key_file go together")
	}
	return nil
}

func (c *Config) validatePersistence() error {
	p := c.Persistence
	switch p.Backend {
	case BackendFile:
		if p.Dir == "" {
			return invalid("persistence.dir required for the file backend")
		}
	case BackendSQLite:
		if p.SQLitePath == "" {
			return invalid("persistence.sqlite_path required for the sqlite backend")
		}
	case BackendKV, BackendObject:
		if c.Transport.Kind != TransportNATS {
			return invalid("persistence backend %q needs the nats transport", p.Backend)
		}
	default:
		return invalid("persistence.backend %q", p.Backend)
	}
	if p.Retry.MaxRetries < 0 || p.Retry.InitialDelay < 0 || p.Retry.MaxDelay < 0 {
		return invalid("persistence.retry values must not be negative")
	}
	return nil
}

func (c *Config) validatePublisher() error {
	p := c.Publisher
	seen := make(map[string]bool, len(p.Sensors))
	for _, s := range p.Sensors {
		if s.ID == "" {
			return invalid("publisher sensor without id")
		}
		if seen[s.ID] {
			return invalid("duplicate publisher sensor %q", s.ID)
		}
		seen[s.ID] = true
	}
	if p.Interval <= 0 {
		return invalid("publisher.interval must be positive")
	}
	if p.Workers < 0 || p.QueueSize < 0 {
		return invalid("publisher.workers and queue_size must not be negative")
	}
	return nil
}

// Clone deep-copies the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted is a clone with credentials masked
func (c *Config) Redacted() *Config {
	out := c.Clone()
	for _, s := range []*string{&out.NATS.Password, &out.NATS.Token, &out.Transport.Passphrase} {
		if *s != "" {
			*s = redacted
		}
	}
	return out
}

// String returns the redacted JSON representation
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
