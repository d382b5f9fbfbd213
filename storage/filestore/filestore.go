// Package filestore implements storage.Store on a local directory.
//
// Put writes to a temporary file in the target directory, fsyncs it and renames
// it over the destination, so a crash leaves either the previous blob or the new
// one. The directory is fsynced after the rename.
package filestore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/storage"
)

const tempPrefix = ".tmp-"

// Store is a directory-backed storage.Store
type Store struct {
	root   string
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates the root directory if needed and returns a Store over it
func New(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "filestore", "New", "root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "filestore", "New", "create root directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger.With("component", "filestore", "root", root)}, nil
}

// Root returns the backing directory
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put atomically replaces the blob at key
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "filestore", "Put", "create directory")
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(dst)+"-*")
	if err != nil {
		return errors.WrapTransient(err, "filestore", "Put", "create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WrapTransient(err, "filestore", "Put", "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WrapTransient(err, "filestore", "Put", "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "filestore", "Put", "close temp file")
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return errors.WrapTransient(err, "filestore", "Put", "rename into place")
	}
	committed = true

	if err := syncDir(dir); err != nil {
		s.logger.Warn("directory sync failed", "dir", dir, "error", err)
	}
	s.logger.Debug("stored blob", "key", key, "size", len(data))
	return nil
}

// Get reads the blob at key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(storage.ErrNotFound, "filestore", "Get", "read "+key)
		}
		return nil, errors.WrapTransient(err, "filestore", "Get", "read "+key)
	}
	return data, nil
}

// List walks the root and returns keys with the given prefix, skipping in-flight temp files
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "filestore", "List", "walk root")
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the blob at key
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.WrapTransient(err, "filestore", "Delete", "remove "+key)
	}
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
