package scheduler

import "sync"

// Semaphore is a non-blocking bounded counter. Dispatch loops call TryAcquire
// until it fails and Release once per finished task.
type Semaphore struct {
	mu     sync.Mutex
	limit  int
	active int
}

// NewSemaphore returns a semaphore permitting limit concurrent holders.
// Limits below one are raised to one.
func NewSemaphore(limit int) *Semaphore {
	if limit < 1 {
		limit = 1
	}
	return &Semaphore{limit: limit}
}

// TryAcquire takes a slot if one is free.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.limit {
		return false
	}
	s.active++
	return true
}

// Release frees a slot. Extra releases are ignored.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	s.mu.Unlock()
}

// Active reports the number of held slots.
func (s *Semaphore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Limit reports the configured bound.
func (s *Semaphore) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}
