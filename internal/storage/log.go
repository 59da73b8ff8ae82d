// Package storage provides the durable append-only logs behind the
// observation store and the offline buffer.
package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotFound is returned when a sequence number does not exist in the log.
var ErrNotFound = errors.New("log entry not found")

// Entry is one record in a Log. Seq is assigned on append and increases
// monotonically; ReadAll returns entries in Seq order.
type Entry struct {
	Seq     uint64
	Payload []byte
}

// Log is an ordered, durable record sink.
type Log interface {
	Append(ctx context.Context, payload []byte) (uint64, error)
	ReadAll(ctx context.Context) ([]Entry, error)
	Update(ctx context.Context, seq uint64, payload []byte) error
	// Delete removes entries and reports how many existed.
	Delete(ctx context.Context, seqs ...uint64) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryLog is a Log held in process memory. It is used in tests and for
// ephemeral runs.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	next    uint64
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{next: 1}
}

func (m *MemoryLog) Append(_ context.Context, payload []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.next
	m.next++
	m.entries = append(m.entries, Entry{Seq: seq, Payload: slices.Clone(payload)})
	return seq, nil
}

// ReadAll returns a copy so callers cannot mutate stored payloads.
func (m *MemoryLog) ReadAll(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = Entry{Seq: e.Seq, Payload: slices.Clone(e.Payload)}
	}
	return out, nil
}

func (m *MemoryLog) Update(_ context.Context, seq uint64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.find(seq)
	if !ok {
		return ErrNotFound
	}
	m.entries[i].Payload = slices.Clone(payload)
	return nil
}

// Delete removes the given entries. Unknown sequence numbers are ignored.
func (m *MemoryLog) Delete(_ context.Context, seqs ...uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, seq := range seqs {
		if i, ok := m.find(seq); ok {
			m.entries = slices.Delete(m.entries, i, i+1)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryLog) Ping(context.Context) error { return nil }

func (m *MemoryLog) Close() error { return nil }

func (m *MemoryLog) find(seq uint64) (int, bool) {
	return slices.BinarySearchFunc(m.entries, seq, func(e Entry, s uint64) int {
		switch {
		case e.Seq < s:
			return -1
		case e.Seq > s:
			return 1
		default:
			return 0
		}
	})
}
