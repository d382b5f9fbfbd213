// Package reconciler accumulates classified readings and annotations.
//
// Writes are plain appends; a reading and its annotations are matched by
// key only when read. Annotations whose reading has not arrived yet are kept.
package reconciler

import (
	"sync"

	"github.com/c360/semtrust/message"
)

// Recorder receives append counts; metric.Metrics satisfies it
type Recorder interface {
	RecordReading()
	RecordAnnotations(n int)
}

// Reconciler is safe for one writer and many readers
type Reconciler struct {
	mu          sync.RWMutex
	readings    []message.ReadingRecord
	annotations []message.AnnotationRecord
	byKey       map[string][]int
	recorder    Recorder
}

// New creates an empty reconciler. recorder may be nil.
func New(recorder Recorder) *Reconciler {
	return &Reconciler{byKey: make(map[string][]int), recorder: recorder}
}

// RecordReading appends one reading record
func (r *Reconciler) RecordReading(rec message.ReadingRecord) {
	r.mu.Lock()
	r.readings = append(r.readings, rec)
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordReading()
	}
}

// RecordAnnotations appends every item of list, each labelled with its own key
func (r *Reconciler) RecordAnnotations(list message.AnnotationList) {
	r.mu.Lock()
	for _, a := range list.Items {
		r.byKey[a.Key] = append(r.byKey[a.Key], len(r.annotations))
		r.annotations = append(r.annotations, message.AnnotationRecord{ReadingKey: a.Key, Annotation: a})
	}
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordAnnotations(len(list.Items))
	}
}

// AnnotationsFor returns the annotations recorded for a reading key, in arrival order
func (r *Reconciler) AnnotationsFor(key string) []message.Annotation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.byKey[key]
	out := make([]message.Annotation, len(idx))
	for i, j := range idx {
		out[i] = r.annotations[j].Annotation
	}
	return out
}

// Snapshot returns copies of both collections
func (r *Reconciler) Snapshot() ([]message.ReadingRecord, []message.AnnotationRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	readings := make([]message.ReadingRecord, len(r.readings))
	copy(readings, r.readings)
	annotations := make([]message.AnnotationRecord, len(r.annotations))
	copy(annotations, r.annotations)
	return readings, annotations
}

// Restore replaces state with previously persisted collections
func (r *Reconciler) Restore(readings []message.ReadingRecord, annotations []message.AnnotationRecord) {
	byKey := make(map[string][]int)
	for i, a := range annotations {
		byKey[a.ReadingKey] = append(byKey[a.ReadingKey], i)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append([]message.ReadingRecord(nil), readings...)
	r.annotations = append([]message.AnnotationRecord(nil), annotations...)
	r.byKey = byKey
}

// Len returns the number of readings and annotations held
func (r *Reconciler) Len() (readings, annotations int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.readings), len(r.annotations)
}
