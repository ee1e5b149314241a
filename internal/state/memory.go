package state

import (
	"context"
	"sync"

	"github.com/compassvpn/user-metrics/internal/logsource"
)

// Memory keeps the cursor in process memory only.
type Memory struct {
	mu  sync.Mutex
	cur logsource.Cursor
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) (logsource.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, nil
}

func (m *Memory) Save(_ context.Context, c logsource.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = c
	return nil
}

func (m *Memory) Close() error { return nil }
