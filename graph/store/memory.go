package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps runs in process memory. It is the default archive for a
// single orchestrator process and the reference implementation in tests.
//
// Runs are deep-copied on the way in and out, so callers cannot alias stored
// state.
type MemStore struct {
	mu     sync.RWMutex
	runs   map[string]Run
	closed bool
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string]Run)}
}

func (m *MemStore) SaveRun(_ context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	copied, err := copyRun(run)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs[run.ID] = copied
	return nil
}

func (m *MemStore) LoadRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	run, ok := m.runs[id]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return Run{}, ErrClosed
	}
	if !ok {
		return Run{}, ErrNotFound
	}
	return copyRun(run)
}

func (m *MemStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		c, err := copyRun(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Len reports the number of archived runs.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

// Close marks the store closed. Further calls fail with ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyRun(run Run) (Run, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return Run{}, fmt.Errorf("failed to marshal run: %w", err)
	}
	var copied Run
	if err := json.Unmarshal(data, &copied); err != nil {
		return Run{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return copied, nil
}
