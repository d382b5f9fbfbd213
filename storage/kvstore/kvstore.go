// Package kvstore implements storage.Store on a NATS JetStream Key-Value bucket.
package kvstore

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
const DefaultBucket = "SEMTRUST_SNAPSHOTS"

// Store is a NATS KV backed storage.Store
type Store struct {
	kv *natsclient.KVStore
}

var _ storage.Store = (*Store)(nil)

// New opens or creates bucket on client. Values larger than
// natsclient.DefaultKVOptions().MaxValueSize are rejected by Put.
func New(ctx context.Context, client *natsclient.Client, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "SemTrust subscriber snapshots",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "kvstore", "New", "open bucket "+bucket)
	}
	return NewWithKV(client.NewKVStore(kv)), nil
}

// NewWithKV wraps an already configured KVStore
func NewWithKV(kv *natsclient.KVStore) *Store {
	return &Store{kv: kv}
}

// Put replaces the value at key
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		if stderrors.Is(err, natsclient.ErrKVValueTooLarge) {
			return errors.WrapInvalid(err, "kvstore", "Put", "store "+key)
		}
		return errors.WrapTransient(err, "kvstore", "Put", "store "+key)
	}
	return nil
}

// Get returns the value at key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.Wrap(storage.ErrNotFound, "kvstore", "Get", "read "+key)
		}
		return nil, errors.WrapTransient(err, "kvstore", "Get", "read "+key)
	}
	return entry.Value, nil
}

// List returns bucket keys with the given prefix
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	all, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "kvstore", "List", "list keys")
	}
	keys := []string{}
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "kvstore", "Delete", "delete "+key)
	}
	return nil
}
