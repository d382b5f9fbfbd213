package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	semerrors "github.com/c360/semtrust/errors"
)

// Bucket is the NATS KV bucket that receives the effective configuration
const Bucket = "SEMTRUST_CONFIG"

// KVWriter is the subset of natsclient.KVStore used to publish configuration.
// UpdateWithRetry hands update the current value, nil when absent, and
// writes its result with compare-and-set.
type KVWriter interface {
	UpdateWithRetry(ctx context.Context, key string, update func(current []byte) ([]byte, error)) error
}

// errUnchanged aborts an update whose section already holds the same value
var errUnchanged = errors.New("section unchanged")

// sanitizeKey replaces characters NATS KV keys do not accept
func sanitizeKey(key string) string {
	return strings.NewReplacer(" ", "_", "*", "_", ">", "_").Replace(key)
}

// PushToKV writes the redacted configuration of service to kv, one key per
// section under "<service>.", so operators can inspect what each binary runs
// with. Sections that already hold the same value are not rewritten, so a
// restart with an unchanged config adds no revisions.
func PushToKV(ctx context.Context, kv KVWriter, service string, cfg *Config) error {
	if service == "" {
		return fmt.Errorf("%w: empty service name", semerrors.ErrInvalidConfig)
	}
	prefix := sanitizeKey(service) + "."
	red := cfg.Redacted()

	data, err := json.Marshal(red)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("split config: %w", err)
	}

	for name, raw := range sections {
		if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
			continue
		}
		err := kv.UpdateWithRetry(ctx, prefix+sanitizeKey(name), func(current []byte) ([]byte, error) {
			if current != nil && bytes.Equal(current, raw) {
				return nil, errUnchanged
			}
			return raw, nil
		})
		if err != nil && !errors.Is(err, errUnchanged) {
			return fmt.Errorf("push %s: %w", name, err)
		}
	}
	return nil
}
