package storage

import (
	"context"
	"sync"

	"feedwatch/internal/feed"
)

// Memory is an in-process Store. Saves are deep copies, so callers cannot
// mutate what was stored.
type Memory struct {
	mu    sync.Mutex
	st    feed.State
	saves int
}

func NewMemory() *Memory { return &Memory{st: feed.NewState()} }

func (m *Memory) Load(ctx context.Context) (feed.State, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, st feed.State) error {
	_ = ctx
	m.mu.Lock()
	m.st = st.Clone()
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves reports how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
