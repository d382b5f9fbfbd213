package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	semerrors "github.com/c360/semtrust/errors"
)

// ErrNotFound is returned by Get when the key does not exist
var ErrNotFound = semerrors.ErrKeyNotFound

// Store is the pluggable backend interface for snapshot blobs.
//
// Keys are slash-separated names such as "readings.json". Values are opaque
// bytes. Put replaces any previous value atomically: a reader sees either the
// old value or the new one, never a partial write.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Put stores data at key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the data at key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns keys starting with prefix in lexicographic order.
	// An empty prefix lists every key.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by configuration
const (
	BackendFile   = "file"
	BackendKV     = "kv"
	BackendSQLite = "sqlite"
	BackendObject = "object"
)

// IsNotFound reports whether err means the key is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidateKey rejects empty keys and keys that would escape a directory root
func ValidateKey(key string) error {
	if key == "" {
		return semerrors.WrapInvalid(semerrors.ErrInvalidData, "Store", "ValidateKey", "empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return semerrors.WrapInvalid(semerrors.ErrInvalidData, "Store", "ValidateKey", "key "+key)
	}
	if clean := path.Clean(key); clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return semerrors.WrapInvalid(semerrors.ErrInvalidData, "Store", "ValidateKey", "key "+key)
	}
	return nil
}
