package notifications

import (
	"context"
	"time"

	"sessionqa/internal/scheduler"
	"sessionqa/internal/session"
)

// EventType identifies the kind of notification.
type EventType string

const (
	// EventSessionUpdated carries the latest copy of one session.
	EventSessionUpdated EventType = "session_updated"
	// EventQueueSnapshot carries dispatcher and analysis queue statistics.
	EventQueueSnapshot EventType = "queue_snapshot"
	// EventTest is emitted by the test-notification operator action.
	EventTest EventType = "test"
)

// Snapshot pairs both manager statuses.
type Snapshot struct {
	Download scheduler.Stats `json:"download"`
	Analysis scheduler.Stats `json:"analysis"`
	Sessions session.Counts  `json:"sessions"`
}

// Event is a single notification.
type Event struct {
	Type     EventType        `json:"type"`
	Time     time.Time        `json:"time"`
	Session  *session.Session `json:"session,omitempty"`
	Snapshot *Snapshot        `json:"snapshot,omitempty"`
	// Terminal marks a session update that ends its pipeline run: analysis
	// completed, analysis out of retries, or download failed.
	Terminal bool `json:"terminal,omitempty"`
}

// SessionUpdated builds an EventSessionUpdated for s.
func SessionUpdated(s *session.Session, terminal bool) Event {
	return Event{Type: EventSessionUpdated, Time: time.Now().UTC(), Session: s.Clone(), Terminal: terminal}
}

// QueueSnapshot builds an EventQueueSnapshot.
func QueueSnapshot(snap Snapshot) Event {
	return Event{Type: EventQueueSnapshot, Time: time.Now().UTC(), Snapshot: &snap}
}

// Publisher delivers events at most once without acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) {}

// Fanout publishes to each non-nil publisher in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, event)
		}
	}
}
