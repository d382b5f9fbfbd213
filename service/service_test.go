package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtrust/config"
	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/gateway"
	"github.com/c360/semtrust/ingest"
	"github.com/c360/semtrust/publisher"
	"github.com/c360/semtrust/score"
	"github.com/c360/semtrust/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Transport.Kind = config.TransportMemory
	cfg.Transport.Passphrase = "test-passphrase"
	cfg.Signature.PrivateKeyPath = filepath.Join(dir, "keys", "private.key")
	cfg.Signature.PublicKeyPath = filepath.Join(dir, "keys", "public.key")
	cfg.Persistence.Dir = filepath.Join(dir, "data")
	cfg.Persistence.Retry = errors.RetryConfig{
		MaxRetries:    1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1,
	}
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.PushInterval = 50 * time.Millisecond
	cfg.HTTP.ViewTTL = 20 * time.Millisecond
	cfg.Ingest.PollInterval = 10 * time.Millisecond
	cfg.Publisher.Interval = 50 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type running struct {
	cancel context.CancelFunc
	done   chan error
}

func (r running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func start(t *testing.T, svc interface {
	Service
	Ready() <-chan struct{}
}) running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := running{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- svc.Run(ctx) }()

	select {
	case <-svc.Ready():
	case err := <-r.done:
		cancel()
		t.Fatalf("%s exited before ready: %v", svc.Name(), err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatalf("%s not ready", svc.Name())
	}
	return r
}

// getJSON returns the status code, or 0 when the request or decode fails
func getJSON(url string, v any) int {
	resp, err := http.Get(url)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return 0
		}
	}
	return resp.StatusCode
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "stopped", StatusStopped.String())
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "stopping", StatusStopping.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestNewDependencies_MemoryTransport(t *testing.T) {
	deps, err := NewDependencies("publisher", testConfig(t), testLogger())
	require.NoError(t, err)
	defer deps.Close(context.Background())

	assert.Nil(t, deps.NATSClient)
	assert.False(t, deps.DurableLog(), "a process-local log cannot resume a session")
	assert.Same(t, deps.Log(), deps.Log())
	assert.NoError(t, deps.Connect(context.Background()))

	shared := transport.NewMemoryLog()
	ephemeral, err := NewDependencies("publisher", testConfig(t), testLogger(), WithLog(shared, false))
	require.NoError(t, err)
	assert.False(t, ephemeral.DurableLog())
	assert.Same(t, shared, ephemeral.Log())

	_, err = NewDependencies("publisher", nil, nil)
	assert.True(t, errors.IsFatal(err))
}

func TestOpenStore_Backends(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Persistence.Backend = config.BackendSQLite
	cfg.Persistence.SQLitePath = filepath.Join(t.TempDir(), "state.db")
	deps, err := NewDependencies("subscriber", cfg, testLogger())
	require.NoError(t, err)

	store, err := deps.OpenStore(ctx, SubscriberName)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, ingest.SessionKey, []byte("blob")))
	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{ingest.SessionKey}, keys)
	require.NoError(t, deps.Close(ctx))

	kvCfg := testConfig(t)
	kvCfg.Persistence.Backend = config.BackendKV
	kvDeps, err := NewDependencies("subscriber", kvCfg, testLogger())
	require.NoError(t, err)
	_, err = kvDeps.OpenStore(ctx, SubscriberName)
	assert.True(t, errors.IsFatal(err), "kv needs a NATS client")
}

func TestPublisherSubscriber_EndToEnd(t *testing.T) {
	log := transport.NewMemoryLog()

	pubCfg := testConfig(t)
	pubDeps, err := NewDependencies(PublisherName, pubCfg, testLogger(), WithLog(log, true))
	require.NoError(t, err)
	pub := NewPublisher(pubDeps)
	assert.Equal(t, StatusStopped, pub.Status())
	pubRun := start(t, pub)
	assert.Equal(t, StatusRunning, pub.Status())

	identity, err := pubDeps.Identity()
	require.NoError(t, err)

	subCfg := testConfig(t)
	subCfg.Publisher.AnnouncementURL = "http://" + pub.Addr()
	subCfg.Transport.Author = transport.AuthorID(identity.PublicKey())
	subDeps, err := NewDependencies(SubscriberName, subCfg, testLogger(), WithLog(log, true))
	require.NoError(t, err)
	sub := NewSubscriber(subDeps)
	subRun := start(t, sub)

	require.Eventually(t, func() bool {
		readings, annotations := sub.State().Len()
		return readings >= 4 && annotations >= 4
	}, 10*time.Second, 20*time.Millisecond)

	var view []score.SensorView
	require.Eventually(t, func() bool {
		return getJSON("http://"+sub.Addr()+"/"+gateway.SensorsPath, &view) == http.StatusOK && len(view) == 2
	}, 5*time.Second, 50*time.Millisecond)
	for _, v := range view {
		assert.Contains(t, []string{"Flow_Sensor_1", "Flow_Sensor_2"}, v.SensorID)
		assert.NotZero(t, v.Total)
	}

	assert.Equal(t, http.StatusOK, getJSON("http://"+pub.Addr()+"/health", nil))
	assert.Equal(t, http.StatusOK, getJSON("http://"+sub.Addr()+"/health", nil))

	pubRun.stop(t)
	subRun.stop(t)
	assert.Equal(t, StatusStopped, pub.Status())
	assert.Equal(t, StatusStopped, sub.Status())

	ctx := context.Background()
	pubStore, err := NewDependencies(PublisherName, pubCfg, testLogger())
	require.NoError(t, err)
	ps, err := pubStore.OpenStore(ctx, PublisherName)
	require.NoError(t, err)
	_, err = ps.Get(ctx, publisher.SessionKey)
	assert.NoError(t, err, "publisher session saved on stop")

	readings, annotations := sub.State().Len()

	// Restart against the same log with an unreachable publisher: state and
	// session come from the snapshot, not the announcement exchange.
	subCfg.Publisher.AnnouncementURL = "http://127.0.0.1:1"
	restartDeps, err := NewDependencies(SubscriberName, subCfg, testLogger(), WithLog(log, true))
	require.NoError(t, err)
	restarted := NewSubscriber(restartDeps)
	restartRun := start(t, restarted)
	gotReadings, gotAnnotations := restarted.State().Len()
	assert.GreaterOrEqual(t, gotReadings, readings)
	assert.GreaterOrEqual(t, gotAnnotations, annotations)
	restartRun.stop(t)
}

func TestSubscriber_RejectsUnexpectedAuthor(t *testing.T) {
	log := transport.NewMemoryLog()

	pubDeps, err := NewDependencies(PublisherName, testConfig(t), testLogger(), WithLog(log, true))
	require.NoError(t, err)
	pub := NewPublisher(pubDeps)
	pubRun := start(t, pub)
	defer pubRun.stop(t)

	subCfg := testConfig(t)
	subCfg.Publisher.AnnouncementURL = "http://" + pub.Addr()
	subCfg.Transport.Author = "0000000000000000"
	subDeps, err := NewDependencies(SubscriberName, subCfg, testLogger(), WithLog(log, true))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = NewSubscriber(subDeps).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProtocol)
	assert.True(t, errors.IsFatal(err))
}
