package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store.
//
// Designed for tests and single-process development. History is lost when
// the process exits. Checkpoints are JSON-normalised on write, so values read
// back have the same shapes as from the SQL backends.
type MemStore struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint // threadID -> history, oldest first
	closed  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		threads: make(map[string][]Checkpoint),
	}
}

// Put appends cp to its thread's history.
func (m *MemStore) Put(_ context.Context, cp Checkpoint) error {
	normalized, err := normalize(cp)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, existing := range m.threads[cp.ThreadID] {
		if existing.Version == cp.Version {
			return ErrVersionConflict
		}
	}

	m.threads[cp.ThreadID] = append(m.threads[cp.ThreadID], normalized)
	return nil
}

// Latest returns the highest-version checkpoint of threadID.
func (m *MemStore) Latest(_ context.Context, threadID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Checkpoint{}, ErrClosed
	}

	history := m.threads[threadID]
	if len(history) == 0 {
		return Checkpoint{}, ErrNotFound
	}

	latest := history[0]
	for _, cp := range history[1:] {
		if cp.Version > latest.Version {
			latest = cp
		}
	}
	return normalize(latest)
}

// List returns up to limit checkpoints of threadID, newest first.
func (m *MemStore) List(_ context.Context, threadID string, limit int) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	history := m.threads[threadID]
	out := make([]Checkpoint, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp, err := normalize(history[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
