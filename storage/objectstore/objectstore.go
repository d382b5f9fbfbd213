// Package objectstore implements storage.Store on a NATS JetStream ObjectStore
// bucket. Unlike the KV backend it has no per-value size ceiling, so it suits
// long-running subscribers whose annotation snapshots grow past 1 MiB.
package objectstore

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/natsclient"
	"github.com/c360/semtrust/storage"
)

// DefaultBucket is the bucket used when none is configured
const DefaultBucket = "SEMTRUST_OBJECTS"

// Store is an ObjectStore backed storage.Store
type Store struct {
	bucket jetstream.ObjectStore
}

var _ storage.Store = (*Store)(nil)

// New opens or creates bucket on client
func New(ctx context.Context, client *natsclient.Client, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	obs, err := client.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "SemTrust subscriber snapshots",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "New", "open bucket "+bucket)
	}
	return &Store{bucket: obs}, nil
}

// Put replaces the object at key
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.bucket.PutBytes(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "objectstore", "Put", "store "+key)
	}
	return nil
}

// Get returns the object at key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, key)
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, errors.Wrap(storage.ErrNotFound, "objectstore", "Get", "read "+key)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "Get", "read "+key)
	}
	return data, nil
}

// List returns live object names with the given prefix
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.bucket.List(ctx)
	if stderrors.Is(err, jetstream.ErrNoObjectsFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "List", "list objects")
	}
	keys := []string{}
	for _, info := range infos {
		if !info.Deleted && strings.HasPrefix(info.Name, prefix) {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the object at key
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && !stderrors.Is(err, jetstream.ErrObjectNotFound) {
		return errors.WrapTransient(err, "objectstore", "Delete", "delete "+key)
	}
	return nil
}
