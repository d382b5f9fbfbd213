package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtrust/metric"
)

type annotateJob struct {
	sensor string
	fail   bool
	delay  time.Duration
}

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, annotateJob) error { return nil }

	pool := NewPool(5, 100, noop)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, noop)
	assert.Equal(t, defaultWorkers, pool.workers)
	assert.Equal(t, defaultQueueSize, pool.queueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[annotateJob](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, func(context.Context, annotateJob) error { return nil })

	assert.ErrorIs(t, pool.Submit(annotateJob{}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(annotateJob{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second stop is a no-op")
}

func TestPool_ProcessesAllSubmitted(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	pool := NewPool(3, 50, func(_ context.Context, j annotateJob) error {
		mu.Lock()
		seen[j.sensor]++
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 20; i++ {
		sensor := "Flow_Sensor_1"
		if i%2 == 1 {
			sensor = "Flow_Sensor_2"
		}
		require.NoError(t, pool.Submit(annotateJob{sensor: sensor}))
	}
	require.NoError(t, pool.Stop(2*time.Second))

	assert.Equal(t, 10, seen["Flow_Sensor_1"])
	assert.Equal(t, 10, seen["Flow_Sensor_2"])

	stats := pool.Stats()
	assert.EqualValues(t, 20, stats.Submitted)
	assert.EqualValues(t, 20, stats.Processed)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestPool_ErrorHandler(t *testing.T) {
	var handled int64
	boom := errors.New("publish failed")

	pool := NewPool(1, 10,
		func(_ context.Context, j annotateJob) error {
			if j.fail {
				return boom
			}
			return nil
		},
		WithErrorHandler(func(j annotateJob, err error) {
			assert.ErrorIs(t, err, boom)
			assert.True(t, j.fail)
			atomic.AddInt64(&handled, 1)
		}),
	)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(annotateJob{fail: true}))
	require.NoError(t, pool.Submit(annotateJob{}))
	require.NoError(t, pool.Submit(annotateJob{fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	assert.EqualValues(t, 2, atomic.LoadInt64(&handled))
	assert.EqualValues(t, 2, pool.Stats().Failed)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ annotateJob) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(annotateJob{}))
	// the single worker may or may not have dequeued the first item yet
	var full error
	for i := 0; i < 3 && full == nil; i++ {
		full = pool.Submit(annotateJob{})
	}
	assert.ErrorIs(t, full, ErrQueueFull)
	assert.GreaterOrEqual(t, pool.Stats().Dropped, int64(1))

	close(release)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_StopTimeout(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, j annotateJob) error {
		time.Sleep(j.delay)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(annotateJob{delay: 300 * time.Millisecond}))

	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(2, 10, func(context.Context, annotateJob) error { return nil })
	require.NoError(t, pool.Start(ctx))

	cancel()
	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit after cancel")
	}
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 10,
		func(_ context.Context, j annotateJob) error {
			if j.fail {
				return errors.New("x")
			}
			return nil
		},
		WithMetricsRegistry[annotateJob](registry, "publisher_annotate"),
	)
	require.NotNil(t, pool.metrics)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(annotateJob{}))
	require.NoError(t, pool.Submit(annotateJob{fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.submitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.processed))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.failed))
}
