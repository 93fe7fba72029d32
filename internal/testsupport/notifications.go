package testsupport

import (
	"context"
	"sync"

	"sessionqa/internal/notifications"
)

// Recorder is a notifications.Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []notifications.Event
}

// Publish implements notifications.Publisher.
func (r *Recorder) Publish(_ context.Context, event notifications.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}

// SessionEvents returns the recorded updates for one session, oldest first.
func (r *Recorder) SessionEvents(id string) []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifications.Event
	for _, ev := range r.events {
		if ev.Type == notifications.EventSessionUpdated && ev.Session != nil && ev.Session.ID == id {
			out = append(out, ev)
		}
	}
	return out
}
