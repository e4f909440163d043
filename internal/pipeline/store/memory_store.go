// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory OutcomeStore intended for tests.
// Not durable.
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes []Outcome
	latest   map[string]int // source -> index into outcomes
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]int)}
}

func (m *MemoryStore) Record(_ context.Context, o Outcome) error {
	if err := validate(o); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	m.latest[o.Source] = len(m.outcomes) - 1
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, source string) (Outcome, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.latest[source]
	if !ok {
		return Outcome{}, false, nil
	}
	return m.outcomes[i], true, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.outcomes) {
		limit = len(m.outcomes)
	}
	out := make([]Outcome, 0, limit)
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.outcomes[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
