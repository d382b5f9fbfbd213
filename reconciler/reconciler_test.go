package reconciler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtrust/message"
)

type counts struct {
	readings, annotations int
}

func (c *counts) RecordReading()          { c.readings++ }
func (c *counts) RecordAnnotations(n int) { c.annotations += n }

func reading(key, sensor string) message.ReadingRecord {
	return message.ReadingRecord{
		Key:     key,
		Address: "addr-" + key,
		Reading: message.Reading{SensorID: sensor, Value: 190, Timestamp: time.Now().UTC()},
	}
}

func bundle(key string, kinds ...message.Kind) message.AnnotationList {
	var l message.AnnotationList
	for _, k := range kinds {
		l.Items = append(l.Items, message.NewAnnotation(key, message.HashSHA256, "h", k, true))
	}
	return l
}

func TestReconciler_AppendAndLookup(t *testing.T) {
	c := &counts{}
	r := New(c)

	// annotation arrives before its reading
	r.RecordAnnotations(bundle("k1", message.KindThreshold, message.KindSource))
	assert.Len(t, r.AnnotationsFor("k1"), 2, "orphans are retained")

	r.RecordReading(reading("k1", "S1"))
	r.RecordAnnotations(bundle("k1", message.KindPKI))
	r.RecordAnnotations(bundle("k2", message.KindTLS))

	got := r.AnnotationsFor("k1")
	require.Len(t, got, 3)
	assert.Equal(t, message.KindThreshold, got[0].Kind)
	assert.Equal(t, message.KindPKI, got[2].Kind)
	assert.Empty(t, r.AnnotationsFor("missing"))

	nr, na := r.Len()
	assert.Equal(t, 1, nr)
	assert.Equal(t, 4, na)
	assert.Equal(t, 1, c.readings)
	assert.Equal(t, 4, c.annotations)
}

func TestReconciler_DuplicatesAreKept(t *testing.T) {
	r := New(nil)
	rec := reading("k1", "S1")
	r.RecordReading(rec)
	r.RecordReading(rec)

	nr, _ := r.Len()
	assert.Equal(t, 2, nr)
}

func TestReconciler_SnapshotIsCopy(t *testing.T) {
	r := New(nil)
	r.RecordReading(reading("k1", "S1"))
	r.RecordAnnotations(bundle("k1", message.KindThreshold))

	readings, annotations := r.Snapshot()
	readings[0].Key = "mutated"
	annotations[0].ReadingKey = "mutated"

	again, againAnn := r.Snapshot()
	assert.Equal(t, "k1", again[0].Key)
	assert.Equal(t, "k1", againAnn[0].ReadingKey)
}

func TestReconciler_RestoreRebuildsIndex(t *testing.T) {
	src := New(nil)
	src.RecordReading(reading("k1", "S1"))
	src.RecordReading(reading("k2", "S2"))
	src.RecordAnnotations(bundle("k2", message.KindThreshold))
	src.RecordAnnotations(bundle("k1", message.KindSource, message.KindTLS))
	readings, annotations := src.Snapshot()

	dst := New(nil)
	dst.RecordReading(reading("stale", "S9"))
	dst.Restore(readings, annotations)

	gotR, gotA := dst.Snapshot()
	assert.Equal(t, readings, gotR)
	assert.Equal(t, annotations, gotA)
	assert.Len(t, dst.AnnotationsFor("k1"), 2)
	assert.Len(t, dst.AnnotationsFor("k2"), 1)
	assert.Empty(t, dst.AnnotationsFor("stale"))

	dst.RecordAnnotations(bundle("k2", message.KindPKI))
	assert.Len(t, dst.AnnotationsFor("k2"), 2, "appends after restore extend the index")
}

func TestReconciler_ConcurrentReaders(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.RecordReading(reading("k", "S1"))
			r.RecordAnnotations(bundle("k", message.KindThreshold))
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = r.Snapshot()
				_ = r.AnnotationsFor("k")
			}
		}()
	}
	wg.Wait()

	nr, na := r.Len()
	assert.Equal(t, 200, nr)
	assert.Equal(t, 200, na)
}
