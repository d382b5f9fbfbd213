package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/message"
	"github.com/c360/semtrust/pkg/retry"
	"github.com/c360/semtrust/storage"
)

// Blob keys written by every snapshot
const (
	SessionKey     = "session.bin"
	ReadingsKey    = "readings.json"
	AnnotationsKey = "annotations.json"
)

// Snapshot is the persisted subscriber state
type Snapshot struct {
	Session     []byte
	Readings    []message.ReadingRecord
	Annotations []message.AnnotationRecord
}

// Snapshotter writes and reads snapshots through a storage.Store
type Snapshotter struct {
	store  storage.Store
	retry  retry.Config
	logger *slog.Logger
}

// NewSnapshotter creates a snapshotter. Writes retry with cfg.
func NewSnapshotter(store storage.Store, cfg errors.RetryConfig, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		store:  store,
		retry:  cfg.ToRetryConfig(),
		logger: logger.With("component", "snapshotter"),
	}
}

// Save writes both collections, then the sealed session. The session goes
// last so a saved cursor never points past records that were not written.
// Each blob is retried independently; exhausting retries is fatal.
func (s *Snapshotter) Save(
	ctx context.Context, session []byte, readings []message.ReadingRecord, annotations []message.AnnotationRecord,
) error {
	if readings == nil {
		readings = []message.ReadingRecord{}
	}
	if annotations == nil {
		annotations = []message.AnnotationRecord{}
	}
	readingsJSON, err := json.Marshal(readings)
	if err != nil {
		return errors.WrapFatal(err, "Snapshotter", "Save", "marshal readings")
	}
	annotationsJSON, err := json.Marshal(annotations)
	if err != nil {
		return errors.WrapFatal(err, "Snapshotter", "Save", "marshal annotations")
	}

	blobs := []struct {
		key  string
		data []byte
	}{
		{ReadingsKey, readingsJSON},
		{AnnotationsKey, annotationsJSON},
		{SessionKey, session},
	}
	for _, b := range blobs {
		err := retry.Do(ctx, s.retry, func() error {
			err := s.store.Put(ctx, b.key, b.data)
			if err != nil && errors.IsInvalid(err) {
				return retry.NonRetryable(err)
			}
			if err != nil {
				s.logger.Warn("snapshot write failed, retrying", "key", b.key, "error", err)
			}
			return err
		})
		if err != nil {
			return errors.WrapFatal(err, "Snapshotter", "Save", "write "+b.key)
		}
	}
	return nil
}

// Load reads the last snapshot. It returns nil, nil on first run when no
// blob was ever saved. A snapshot whose session is missing has a nil
// Session and must be followed by a fresh join. Missing collections load
// as empty.
func (s *Snapshotter) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	found := 0

	session, err := s.store.Get(ctx, SessionKey)
	switch {
	case storage.IsNotFound(err):
	case err != nil:
		return nil, errors.WrapTransient(err, "Snapshotter", "Load", "read session")
	default:
		snap.Session = session
		found++
	}

	for _, c := range []struct {
		key string
		v   any
	}{
		{ReadingsKey, &snap.Readings},
		{AnnotationsKey, &snap.Annotations},
	} {
		ok, err := s.loadJSON(ctx, c.key, c.v)
		if err != nil {
			return nil, err
		}
		if ok {
			found++
		}
	}

	if found == 0 {
		return nil, nil
	}
	if snap.Session == nil {
		s.logger.Warn("snapshot has no session, a fresh join is required")
	}
	s.logger.Info("snapshot loaded", "readings", len(snap.Readings), "annotations", len(snap.Annotations))
	return snap, nil
}

func (s *Snapshotter) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.store.Get(ctx, key)
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapTransient(err, "Snapshotter", "Load", "read "+key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.WrapFatal(errors.ErrDataCorrupted, "Snapshotter", "Load", "decode "+key+": "+err.Error())
	}
	return true, nil
}
