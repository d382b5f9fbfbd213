package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	semerrors "github.com/c360/semtrust/errors"
)

// Bounds on operator input. Valid layers nest at most five levels.
const (
	maxLayerBytes = 1 << 20
	maxLayerDepth = 8
	maxEnvValue   = 4096
)

var layerExts = []string{".json", ".yaml", ".yml"}

func checkLayerExt(path string) error {
	if !slices.Contains(layerExts, strings.ToLower(filepath.Ext(path))) {
		return fmt.Errorf("%w: %s: config layers are .json, .yaml or .yml", semerrors.ErrInvalidConfig, path)
	}
	return nil
}

// readLayer reads one regular config file of bounded size
func readLayer(path string) ([]byte, error) {
	if err := checkLayerExt(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", semerrors.ErrInvalidConfig, path)
	}
	if info.Size() > maxLayerBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", semerrors.ErrInvalidConfig, path, info.Size(), maxLayerBytes)
	}
	return os.ReadFile(path)
}

// writeLayer writes owner-only: a saved config carries the session passphrase
// and NATS credentials
func writeLayer(path string, data []byte) error {
	if err := checkLayerExt(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// checkLayerDepth bounds the nesting of a decoded JSON or YAML layer
func checkLayerDepth(v any, depth int) error {
	if depth > maxLayerDepth {
		return fmt.Errorf("%w: layer nests deeper than %d levels", semerrors.ErrInvalidConfig, maxLayerDepth)
	}
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if err := checkLayerDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := checkLayerDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkEnvValue rejects override values that no string field can hold
func checkEnvValue(name, value string) error {
	if len(value) > maxEnvValue {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", semerrors.ErrInvalidConfig, name, len(value), maxEnvValue)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %s contains a NUL byte", semerrors.ErrInvalidConfig, name)
	}
	return nil
}
