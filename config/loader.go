package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	semerrors "github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/message"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "SEMTRUST"

// durationKeys are the fields that accept "10s"-style strings in files
var durationKeys = map[string]bool{
	"reconnect_wait": true,
	"timeout":        true,
	"fetch_wait":     true,
	"max_age":        true,
	"initial_delay":  true,
	"max_delay":      true,
	"poll_interval":  true,
	"push_interval":  true,
	"view_ttl":       true,
	"interval":       true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader that validates by default
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer; later layers win
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment, then validates
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, semerrors.WrapFatal(err, "config", "Load", "load "+path)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, semerrors.WrapFatal(err, "config", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, semerrors.WrapFatal(err, "config", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, semerrors.WrapFatal(err, "config", "Load", "validate")
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file, chosen by extension, into a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readLayer(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", semerrors.ErrParsingFailed, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", semerrors.ErrParsingFailed, err)
		}
	}
	if err := checkLayerDepth(raw, 1); err != nil {
		return nil, err
	}

	if l.validation {
		if err := ValidateLayer(raw); err != nil {
			return nil, err
		}
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations rewrites duration strings as nanoseconds for json unmarshaling
func parseDurations(m map[string]any) error {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case string:
			if !durationKeys[k] {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", semerrors.ErrInvalidConfig, k, err)
			}
			m[k] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// mergeFromMap overrides only the fields present in override
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", semerrors.ErrInvalidConfig, err)
	}
	return &merged, nil
}

// deepMergeMaps merges nested objects; arrays and scalars are replaced
func deepMergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = deepMergeMaps(bv, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// applyEnvOverrides applies PREFIX_SECTION_FIELD environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"TRANSPORT_KIND", &cfg.Transport.Kind},
		{"TRANSPORT_PASSPHRASE", &cfg.Transport.Passphrase},
		{"TRANSPORT_AUTHOR", &cfg.Transport.Author},
		{"PERSISTENCE_BACKEND", &cfg.Persistence.Backend},
		{"PERSISTENCE_DIR", &cfg.Persistence.Dir},
		{"PERSISTENCE_BUCKET", &cfg.Persistence.Bucket},
		{"PERSISTENCE_SQLITE_PATH", &cfg.Persistence.SQLitePath},
		{"HTTP_ADDR", &cfg.HTTP.Addr},
		{"HTTP_TLS_CERT_FILE", &cfg.HTTP.TLS.CertFile},
		{"HTTP_TLS_KEY_FILE", &cfg.HTTP.TLS.KeyFile},
		{"PUBLISHER_URL", &cfg.Publisher.AnnouncementURL},
	}
	for _, s := range strs {
		if val, ok := l.env(s.name); ok {
			if err := checkEnvValue(l.envPrefix+"_"+s.name, val); err != nil {
				return err
			}
			*s.dst = val
		}
	}

	if val, ok := l.env("NATS_URLS"); ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok := l.env("HASH_TYPE"); ok {
		cfg.Hash.Type = message.HashType(val)
	}
	bools := []struct {
		name string
		dst  *bool
	}{
		{"NATS_TLS_ENABLED", &cfg.NATS.TLS.Enabled},
		{"HTTP_TLS_ENABLED", &cfg.HTTP.TLS.Enabled},
	}
	for _, b := range bools {
		if val, ok := l.env(b.name); ok {
			enabled, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%w: %s_%s: %v", semerrors.ErrInvalidConfig, l.envPrefix, b.name, err)
			}
			*b.dst = enabled
		}
	}
	if val, ok := l.env("INGEST_POLL_INTERVAL"); ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return fmt.Errorf("%w: %s_INGEST_POLL_INTERVAL: %v", semerrors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.Ingest.PollInterval = d
	}
	return nil
}

func (l *Loader) env(name string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

// SaveToFile writes the configuration as JSON or YAML by extension.
// Durations are written in their string form so the file reloads unchanged.
func (c *Config) SaveToFile(path string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	formatDurations(m)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m)
	default:
		data, err = json.MarshalIndent(m, "", "  ")
	}
	if err != nil {
		return err
	}
	return writeLayer(path, data)
}

func formatDurations(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			formatDurations(val)
		case float64:
			if durationKeys[k] {
				m[k] = time.Duration(val).String()
			}
		}
	}
}
