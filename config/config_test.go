package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	semerrors "github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/message"
)

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return l
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Transport.Passphrase = "secret"
	return cfg
}

func TestDefault_NeedsOnlyPassphrase(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, semerrors.ErrInvalidConfig)
	assert.True(t, semerrors.IsFatal(err))

	cfg.Transport.Passphrase = "secret"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.Signature.PublicKeyPath, cfg.Signature.ProducerKeyPath)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"hash":             func(c *Config) { c.Hash.Type = "crc32" },
		"no annotators":    func(c *Config) { c.Annotators = nil },
		"unknown kind":     func(c *Config) { c.Annotators = []message.Kind{"weather"} },
		"threshold order":  func(c *Config) { c.Threshold = ThresholdConfig{Low: 201, High: 200} },
		"transport kind":   func(c *Config) { c.Transport.Kind = "carrier-pigeon" },
		"nats urls":        func(c *Config) { c.NATS.URLs = nil },
		"backend":          func(c *Config) { c.Persistence.Backend = "tape" },
		"file dir":         func(c *Config) { c.Persistence.Dir = "" },
		"sqlite path":      func(c *Config) { c.Persistence.Backend = BackendSQLite },
		"kv needs nats":    func(c *Config) { c.Transport.Kind = TransportMemory; c.Persistence.Backend = BackendKV },
		"poll interval":    func(c *Config) { c.Ingest.PollInterval = 0 },
		"duplicate sensor": func(c *Config) { c.Publisher.Sensors = append(c.Publisher.Sensors, SensorConfig{ID: "Flow_Sensor_1"}) },
		"tls pair":         func(c *Config) { c.NATS.TLS = NATSTLSConfig{Enabled: true, CertFile: "c.pem"} },
		"https cert":       func(c *Config) { c.HTTP.TLS.Enabled = true },
		"client tls pair":  func(c *Config) { c.Publisher.TLS.KeyFile = "k.pem" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), semerrors.ErrInvalidConfig)
		})
	}
}

func TestLoader_YAMLLayer(t *testing.T) {
	path := writeFile(t, "semtrust.yaml", `
hash:
  type: blake2b-256
threshold:
  low: 170
transport:
  kind: memory
  passphrase: from-file
  fetch_wait: 250ms
persistence:
  backend: sqlite
  sqlite_path: state.db
  retry:
    max_retries: 5
    initial_delay: 50ms
publisher:
  interval: 1s
  sensors:
    - id: s1
`)
	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, message.HashBlake2b256, cfg.Hash.Type)
	assert.Equal(t, uint8(170), cfg.Threshold.Low)
	assert.Equal(t, uint8(200), cfg.Threshold.High, "untouched fields keep defaults")
	assert.Equal(t, TransportMemory, cfg.Transport.Kind)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.FetchWait)
	assert.Equal(t, "state.db", cfg.Persistence.SQLitePath)
	assert.Equal(t, 5, cfg.Persistence.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Persistence.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Persistence.Retry.BackoffFactor)
	assert.Equal(t, time.Second, cfg.Publisher.Interval)
	assert.Equal(t, []SensorConfig{{ID: "s1"}}, cfg.Publisher.Sensors)
}

func TestLoader_JSONLayersAndEnv(t *testing.T) {
	base := writeFile(t, "base.json", `{"transport": {"passphrase": "base"}, "ingest": {"poll_interval": "2s"}}`)
	override := writeFile(t, "override.json", `{"http": {"addr": ":9999"}}`)

	l := newTestLoader(map[string]string{
		"SEMTRUST_NATS_URLS":            "nats://a:4222,nats://b:4222",
		"SEMTRUST_TRANSPORT_PASSPHRASE": "from-env",
		"SEMTRUST_NATS_TLS_ENABLED":     "true",
		"SEMTRUST_INGEST_POLL_INTERVAL": "3s",
		"SEMTRUST_HTTP_TLS_ENABLED":     "1",
		"SEMTRUST_HTTP_TLS_CERT_FILE":   "/etc/semtrust/cert.pem",
		"SEMTRUST_HTTP_TLS_KEY_FILE":    "/etc/semtrust/key.pem",
	})
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "from-env", cfg.Transport.Passphrase)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.True(t, cfg.NATS.TLS.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Ingest.PollInterval)
	assert.True(t, cfg.HTTP.TLS.Enabled)
	assert.Equal(t, "/etc/semtrust/key.pem", cfg.HTTP.TLS.KeyFile)
}

func TestLoader_Errors(t *testing.T) {
	_, err := newTestLoader(nil).LoadFile(writeFile(t, "bad.json", `{"transport": `))
	assert.True(t, semerrors.IsFatal(err))

	_, err = newTestLoader(nil).LoadFile(writeFile(t, "bad.toml", `x = 1`))
	assert.Error(t, err)

	_, err = newTestLoader(nil).LoadFile(writeFile(t, "dur.json", `{"ingest": {"poll_interval": "soon"}}`))
	assert.ErrorIs(t, err, semerrors.ErrInvalidConfig)

	_, err = newTestLoader(map[string]string{"SEMTRUST_NATS_TLS_ENABLED": "maybe"}).Load()
	assert.ErrorIs(t, err, semerrors.ErrInvalidConfig)
}

func TestLoader_LayerBounds(t *testing.T) {
	deepYAML := "a:\n"
	for i := 1; i < 10; i++ {
		deepYAML += strings.Repeat("  ", i) + "b:\n"
	}
	deepYAML += strings.Repeat("  ", 10) + "c: 1\n"
	deepJSON := strings.Repeat(`{"a":`, 10) + "1" + strings.Repeat("}", 10)

	for name, path := range map[string]string{
		"deep yaml": writeFile(t, "deep.yaml", deepYAML),
		"deep json": writeFile(t, "deep.json", deepJSON),
	} {
		t.Run(name, func(t *testing.T) {
			l := newTestLoader(nil)
			l.EnableValidation(false)
			_, err := l.LoadFile(path)
			require.ErrorIs(t, err, semerrors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), "deeper than")
		})
	}

	dir := filepath.Join(t.TempDir(), "layer.json")
	require.NoError(t, os.Mkdir(dir, 0o700))
	_, err := newTestLoader(nil).LoadFile(dir)
	assert.ErrorIs(t, err, semerrors.ErrInvalidConfig, "directories named like layers are not read")

	_, err = newTestLoader(map[string]string{"SEMTRUST_TRANSPORT_PASSPHRASE": "pass\x00word"}).Load()
	assert.ErrorIs(t, err, semerrors.ErrInvalidConfig)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, validConfig().SaveToFile(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoader_SchemaRejectsUnknownKeys(t *testing.T) {
	cases := map[string]string{
		"top level":  `{"transprot": {"kind": "memory"}}`,
		"nested":     `{"http": {"adress": ":9000"}}`,
		"wrong type": `{"threshold": {"low": "low"}}`,
		"range":      `{"threshold": {"high": 300}}`,
		"enum":       `{"persistence": {"backend": "tape"}}`,
		"sensor id":  `{"publisher": {"sensors": [{"bad": true}]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestLoader(nil).LoadFile(writeFile(t, "layer.json", body))
			assert.ErrorIs(t, err, semerrors.ErrInvalidConfig)
		})
	}

	l := newTestLoader(nil)
	l.EnableValidation(false)
	_, err := l.LoadFile(writeFile(t, "layer.json", `{"unknown": true}`))
	assert.NoError(t, err, "schema checks follow the validation switch")
}

func TestValidateLayer_AcceptsDefaults(t *testing.T) {
	assert.NotEmpty(t, Schema())

	data, err := json.Marshal(Default())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NoError(t, ValidateLayer(raw))
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Publisher.Interval = 1500 * time.Millisecond
			require.NoError(t, cfg.Validate())
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := newTestLoader(nil).LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Token = "tok"

	red := cfg.Redacted()
	assert.Equal(t, redacted, red.Transport.Passphrase)
	assert.Equal(t, redacted, red.NATS.Token)
	assert.Empty(t, red.NATS.Password)
	assert.Equal(t, "secret", cfg.Transport.Passphrase)
	assert.NotContains(t, cfg.String(), "secret")
}

// memKV keeps every written revision per key
type memKV map[string][][]byte

func (m memKV) UpdateWithRetry(_ context.Context, key string, update func([]byte) ([]byte, error)) error {
	var current []byte
	if revs := m[key]; len(revs) > 0 {
		current = revs[len(revs)-1]
	}
	next, err := update(current)
	if err != nil {
		return fmt.Errorf("update function error: %w", err)
	}
	m[key] = append(m[key], next)
	return nil
}

func (m memKV) latest(key string) []byte {
	revs := m[key]
	if len(revs) == 0 {
		return nil
	}
	return revs[len(revs)-1]
}

func TestPushToKV(t *testing.T) {
	kv := memKV{}
	cfg := validConfig()
	require.NoError(t, PushToKV(context.Background(), kv, "sub scriber", cfg))

	require.Contains(t, kv, "sub_scriber.transport")
	var tc TransportConfig
	require.NoError(t, json.Unmarshal(kv.latest("sub_scriber.transport"), &tc))
	assert.Equal(t, redacted, tc.Passphrase)
	assert.Contains(t, kv, "sub_scriber.version")
	assert.Contains(t, kv, "sub_scriber.annotators")

	// an unchanged restart adds no revisions; a changed section adds one
	require.NoError(t, PushToKV(context.Background(), kv, "sub scriber", cfg))
	assert.Len(t, kv["sub_scriber.transport"], 1)
	cfg.HTTP.Addr = ":9100"
	require.NoError(t, PushToKV(context.Background(), kv, "sub scriber", cfg))
	assert.Len(t, kv["sub_scriber.transport"], 1)
	assert.Len(t, kv["sub_scriber.http"], 2)

	assert.ErrorIs(t, PushToKV(context.Background(), kv, "", cfg), semerrors.ErrInvalidConfig)
}
