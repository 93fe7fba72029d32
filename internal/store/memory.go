package store

import (
	"context"
	"sync"

	"sessionqa/internal/session"
)

// Memory is a process-local backend. Saved records are deep-copied so callers
// cannot mutate persisted state.
type Memory struct {
	mu       sync.Mutex
	sessions []*session.Session
	saves    int
	failNext error
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

// Load implements Backend.
func (m *Memory) Load(context.Context) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.sessions), nil
}

// Save implements Backend.
func (m *Memory) Save(_ context.Context, sessions []*session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.sessions = cloneAll(sessions)
	m.saves++
	return nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }

// Saves reports how many successful saves have happened.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailNextSave makes the next Save return err.
func (m *Memory) FailNextSave(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

func cloneAll(sessions []*session.Session) []*session.Session {
	out := make([]*session.Session, 0, len(sessions))
	for _, s := range sessions {
		if s != nil {
			out = append(out, s.Clone())
		}
	}
	return out
}
