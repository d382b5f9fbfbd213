package storage_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtrust/metric"
	"github.com/c360/semtrust/storage"
	"github.com/c360/semtrust/storage/filestore"
)

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"session.bin", "nested/readings.json", "a..b"} {
		assert.NoError(t, storage.ValidateKey(key), key)
	}
	for _, key := range []string{"", "/abs", "../up", "a/./b", "a//b", "a\\b"} {
		assert.Error(t, storage.ValidateKey(key), key)
	}
}

func TestInstrument_NilRegistry(t *testing.T) {
	fs, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)

	s, err := storage.Instrument(fs, nil, storage.BackendFile)
	require.NoError(t, err)
	assert.Same(t, fs, s)
}

func TestInstrument_CountsOperations(t *testing.T) {
	fs, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)
	registry := metric.NewMetricsRegistry()

	s, err := storage.Instrument(fs, registry, storage.BackendFile)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "readings.json", []byte("[]")))
	_, err = s.Get(ctx, "readings.json")
	require.NoError(t, err)
	_, err = s.Get(ctx, "missing")
	require.True(t, storage.IsNotFound(err))

	gathered, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range gathered {
		names[mf.GetName()] = true
	}
	assert.True(t, names["semtrust_storage_operations_total"])
	assert.True(t, names["semtrust_storage_bytes_total"])

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(), "semtrust_storage_errors_total")
	require.NoError(t, err)
	assert.Zero(t, count, "not-found is not an error")

	_, err = storage.Instrument(fs, registry, storage.BackendFile)
	assert.Error(t, err, "duplicate registration")
}

func TestPrefix_ScopesKeys(t *testing.T) {
	fs, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	pub := storage.Prefix(fs, "publisher")
	sub := storage.Prefix(fs, "subscriber/")

	require.NoError(t, pub.Put(ctx, "session.bin", []byte("p")))
	require.NoError(t, sub.Put(ctx, "session.bin", []byte("s")))

	got, err := pub.Get(ctx, "session.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), got)

	raw, err := fs.Get(ctx, "subscriber/session.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("s"), raw)

	keys, err := sub.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"session.bin"}, keys)

	require.NoError(t, pub.Delete(ctx, "session.bin"))
	_, err = pub.Get(ctx, "session.bin")
	assert.True(t, storage.IsNotFound(err))

	assert.Error(t, pub.Put(ctx, "../escape", nil))
	assert.Same(t, fs, storage.Prefix(fs, ""))
}
