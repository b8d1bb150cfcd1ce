package feedback

import (
	"context"
	"sync"
	"time"
)

// Store persists feedback entries
type Store interface {
	BatchInsert(ctx context.Context, entries []Entry) (*BatchInsertResult, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// MemoryStore keeps feedback in process. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// BatchInsert implements Store
func (m *MemoryStore) BatchInsert(_ context.Context, entries []Entry) (*BatchInsertResult, error) {
	start := time.Now()

	m.mu.Lock()
	m.entries = append(m.entries, entries...)
	m.mu.Unlock()

	return &BatchInsertResult{Inserted: int64(len(entries)), Duration: time.Since(start)}, nil
}

// GetStats implements Store
func (m *MemoryStore) GetStats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{ByType: make(map[string]int64)}
	for _, e := range m.entries {
		stats.Total++
		switch e.Kind {
		case KindFalsePositive:
			stats.FalsePositives++
		case KindFalseNegative:
			stats.FalseNegatives++
		}
		stats.ByType[e.DetectionType]++
	}
	return stats, nil
}

// Entries returns a copy of everything recorded so far
func (m *MemoryStore) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}
