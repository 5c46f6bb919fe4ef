package session

import (
	"context"
	"sync"
	"time"
)

// HistoryLimit caps the durable history log. The oldest entry is evicted
// first once the cap is reached.
const HistoryLimit = 50

// Snapshot is the minimal durable session state. Only these fields survive a
// reload; everything else resets to its zero value.
type Snapshot struct {
	SessionID      string    `json:"session_id"`
	LastTranscript string    `json:"last_transcript"`
	LastResponse   string    `json:"last_response"`
	Timestamp      time.Time `json:"timestamp"`
}

// HistoryEntry records one completed turn.
type HistoryEntry struct {
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	Response   string    `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store is the durable key-value backing for a session. The store may be
// cleared externally at any time; absence of data means "fresh session", so
// LoadSnapshot returns (nil, nil) when no snapshot exists.
type Store interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// AppendHistory adds an entry to the history log, evicting the oldest
	// entry once HistoryLimit is reached.
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	// History returns up to limit entries, newest first. limit <= 0 means
	// all retained entries.
	History(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// MemoryStore is an in-process Store for tests and storeless deployments.
type MemoryStore struct {
	mu      sync.Mutex
	snap    *Snapshot
	history []HistoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveSnapshot stores the snapshot, overwriting any previous one.
func (m *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &snap
	return nil
}

// LoadSnapshot returns the stored snapshot, or (nil, nil) when absent.
func (m *MemoryStore) LoadSnapshot(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	snap := *m.snap
	return &snap, nil
}

// AppendHistory adds an entry, evicting the oldest past HistoryLimit.
func (m *MemoryStore) AppendHistory(_ context.Context, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	if len(m.history) > HistoryLimit {
		m.history = m.history[len(m.history)-HistoryLimit:]
	}
	return nil
}

// History returns up to limit entries, newest first.
func (m *MemoryStore) History(_ context.Context, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}
