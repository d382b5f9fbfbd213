package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/semtrust/errors"
)

// MemoryLog is an in-process Log. It backs tests and demo runs with
// -transport=memory where publisher and subscriber share one process.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]Record
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog returns an empty log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[string][]Record)}
}

// Ensure creates the author's stream
func (m *MemoryLog) Ensure(_ context.Context, author string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[author]; !ok {
		m.streams[author] = []Record{}
	}
	return nil
}

// Append stores a copy of rec
func (m *MemoryLog) Append(ctx context.Context, author string, rec Record) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.streams[author]
	if !ok {
		return 0, errors.WrapInvalid(fmt.Errorf("stream %s%s not found", StreamPrefix, author),
			"MemoryLog", "Append", "find stream")
	}
	rec.Seq = uint64(len(records)) + 1
	rec.Payload = append([]byte(nil), rec.Payload...)
	m.streams[author] = append(records, rec)
	return rec.Seq, nil
}

// Next returns the record after the given sequence
func (m *MemoryLog) Next(ctx context.Context, author string, after uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.streams[author]
	if after >= uint64(len(records)) {
		return nil, nil
	}
	rec := records[after]
	return &rec, nil
}

// Get returns the record at seq
func (m *MemoryLog) Get(_ context.Context, author string, seq uint64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.streams[author]
	if !ok || seq == 0 || seq > uint64(len(records)) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrKeyNotFound, NewAddress(author, seq)),
			"MemoryLog", "Get", "find record")
	}
	rec := records[seq-1]
	return &rec, nil
}

// Len returns the number of records in author's stream
func (m *MemoryLog) Len(author string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[author])
}
