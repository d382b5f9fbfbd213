package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtrust/classifier"
	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/message"
	"github.com/c360/semtrust/reconciler"
	"github.com/c360/semtrust/score"
	"github.com/c360/semtrust/storage"
	"github.com/c360/semtrust/transport"
)

const passphrase = "password"

type harness struct {
	author *transport.Endpoint
	sub    *transport.Endpoint
	log    *transport.MemoryLog
	hash   integrity.HashProvider
	rec    *reconciler.Reconciler
	snap   *Snapshotter
	loop   *Loop
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := transport.NewMemoryLog()

	authorID, err := integrity.GenerateEd25519Provider()
	require.NoError(t, err)
	author, err := transport.CreateStream(ctx, log, authorID, transport.BaseTopic)
	require.NoError(t, err)

	subID, err := integrity.GenerateEd25519Provider()
	require.NoError(t, err)
	sub := transport.NewSubscriber(log, subID)
	require.NoError(t, sub.Join(ctx, author.StreamAddress()))

	hash, err := integrity.NewHashProvider(message.HashSHA256)
	require.NoError(t, err)

	h := &harness{
		author: author,
		sub:    sub,
		log:    log,
		hash:   hash,
		rec:    reconciler.New(nil),
		snap:   NewSnapshotter(newFileStore(t), fastRetry(), nil),
	}
	h.loop = NewLoop(sub, classifier.New(hash, nil, nil), h.rec, h.snap, passphrase,
		WithPollInterval(5*time.Millisecond))
	return h
}

func (h *harness) publishReading(t *testing.T, r message.Reading) []byte {
	t.Helper()
	raw, err := r.Bytes()
	require.NoError(t, err)
	_, err = h.author.Publish(context.Background(), r.SensorID, raw, true)
	require.NoError(t, err)
	return raw
}

func (h *harness) publishAnnotations(t *testing.T, key string, kinds map[message.Kind]bool) {
	t.Helper()
	var list message.AnnotationList
	for kind, ok := range kinds {
		list.Items = append(list.Items, message.NewAnnotation(key, message.HashSHA256, "host", kind, ok))
	}
	w, err := message.WrapAnnotations(list)
	require.NoError(t, err)
	raw, err := w.Bytes()
	require.NoError(t, err)
	_, err = h.author.Publish(context.Background(), transport.AnnotationsTopic, raw, true)
	require.NoError(t, err)
}

func (h *harness) steps(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.loop.Step(context.Background()))
	}
}

func TestLoop_AnnotationArrivesFirst(t *testing.T) {
	h := newHarness(t)

	reading := message.Reading{SensorID: "Flow_Sensor_1", Value: 185, Timestamp: time.Now().UTC()}
	raw, err := reading.Bytes()
	require.NoError(t, err)
	key := h.hash.Derive(raw)

	h.publishAnnotations(t, key, map[message.Kind]bool{message.KindThreshold: true})
	h.publishReading(t, reading)
	h.steps(t, 2)

	readings, annotations := h.rec.Snapshot()
	require.Len(t, readings, 1)
	require.Len(t, annotations, 1)
	assert.Equal(t, key, readings[0].Key)

	views := score.BuildView(readings, annotations)
	require.Len(t, views, 1)
	require.Len(t, views[0].Readings, 1)
	assert.InDelta(t, 0.333333, views[0].Readings[0].Score, 1e-9)
}

func TestLoop_IgnoresUnsignedAndUnrecognized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw, err := message.Reading{SensorID: "s", Value: 190, Timestamp: time.Now().UTC()}.Bytes()
	require.NoError(t, err)
	_, err = h.author.Publish(ctx, "s", raw, false)
	require.NoError(t, err)
	_, err = h.author.Publish(ctx, "s", []byte(`{"unknown":true}`), true)
	require.NoError(t, err)

	h.steps(t, 3)

	readings, annotations := h.rec.Len()
	assert.Zero(t, readings)
	assert.Zero(t, annotations)
}

func TestLoop_SnapshotsEveryIteration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publishReading(t, message.Reading{SensorID: "s", Value: 190, Timestamp: time.Now().UTC()})
	h.steps(t, 1)

	snap, err := h.snap.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Readings, 1)

	// the saved session resumes after the consumed reading
	restored, err := transport.Restore(h.log, snap.Session, passphrase)
	require.NoError(t, err)
	msg, err := restored.ReceiveNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

type recordingHealth struct {
	mu      sync.Mutex
	healthy int
	errs    int
}

func (r *recordingHealth) UpdateHealthy(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy++
}

func (r *recordingHealth) UpdateError(string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs++
}

func TestLoop_RunStopsWithFinalSnapshot(t *testing.T) {
	h := newHarness(t)
	health := &recordingHealth{}
	h.loop.health = health

	h.publishReading(t, message.Reading{SensorID: "s", Value: 190, Timestamp: time.Now().UTC()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := h.rec.Len()
		return n == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	data, err := h.snap.store.Get(context.Background(), ReadingsKey)
	require.NoError(t, err)
	var readings []message.ReadingRecord
	require.NoError(t, json.Unmarshal(data, &readings))
	assert.Len(t, readings, 1)

	health.mu.Lock()
	defer health.mu.Unlock()
	assert.Positive(t, health.healthy)
	assert.Zero(t, health.errs)
}

func TestLoop_RunReturnsFatalSnapshotError(t *testing.T) {
	h := newHarness(t)
	store := &flakyStore{Store: newFileStore(t)}
	store.failures.Store(1000)
	h.loop.snapshotter = NewSnapshotter(store, fastRetry(), nil)

	err := h.loop.Run(context.Background())
	require.Error(t, err)
}

// restart resumes a subscriber from what store holds, the way the
// subscriber service does on boot
func (h *harness) restart(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	h.snap = NewSnapshotter(store, fastRetry(), nil)
	h.rec = reconciler.New(nil)

	snap, err := h.snap.Load(ctx)
	require.NoError(t, err)
	if snap != nil && snap.Session != nil {
		h.rec.Restore(snap.Readings, snap.Annotations)
		h.sub, err = transport.Restore(h.log, snap.Session, passphrase)
		require.NoError(t, err)
	} else {
		subID, err := integrity.GenerateEd25519Provider()
		require.NoError(t, err)
		h.sub = transport.NewSubscriber(h.log, subID)
		require.NoError(t, h.sub.Join(ctx, h.author.StreamAddress()))
	}
	h.loop = NewLoop(h.sub, classifier.New(h.hash, nil, nil), h.rec, h.snap, passphrase,
		WithPollInterval(5*time.Millisecond))
}

func TestLoop_FailedSnapshotLosesNothingOnRestart(t *testing.T) {
	tests := []struct {
		name  string
		saved int
	}{
		{name: "first snapshot", saved: 0},
		{name: "after a saved snapshot", saved: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			base := newFileStore(t)
			h.loop.snapshotter = NewSnapshotter(base, fastRetry(), nil)

			for i := 0; i < tt.saved; i++ {
				h.publishReading(t, message.Reading{SensorID: "s", Value: 190, Timestamp: time.Now().UTC()})
				require.NoError(t, h.loop.Step(ctx))
			}

			h.publishReading(t, message.Reading{SensorID: "s", Value: 191, Timestamp: time.Now().UTC()})
			h.loop.snapshotter = NewSnapshotter(&orderStore{Store: base, reject: ReadingsKey}, fastRetry(), nil)
			err := h.loop.Step(ctx)
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))

			h.restart(t, base)
			h.steps(t, 3)

			readings, _ := h.rec.Snapshot()
			require.Len(t, readings, tt.saved+1)
			assert.Equal(t, uint8(191), readings[tt.saved].Reading.Value)
		})
	}
}
