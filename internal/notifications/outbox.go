package notifications

import (
	"context"
	"sync"
)

// Outbox delivers events to a Publisher in the order they were queued.
// Callers queue while holding their own locks and flush after releasing
// them, so the target never runs under a caller's lock.
type Outbox struct {
	target Publisher

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []Event
	queued    uint64
	delivered uint64
	flushing  bool
}

// NewOutbox wraps target. A nil target discards events.
func NewOutbox(target Publisher) *Outbox {
	if target == nil {
		target = Noop{}
	}
	o := &Outbox{target: target}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Queue appends events and returns the sequence number Flush must reach for
// them to be delivered.
func (o *Outbox) Queue(events ...Event) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, events...)
	o.queued += uint64(len(events))
	return o.queued
}

// Flush returns once every event up to seq has been published. Only one
// caller publishes at a time; others wait for it.
func (o *Outbox) Flush(ctx context.Context, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.delivered < seq {
		if o.flushing {
			o.cond.Wait()
			continue
		}
		batch := o.pending
		o.pending = nil
		o.flushing = true
		o.mu.Unlock()
		o.deliver(ctx, batch)
		o.mu.Lock()
		o.delivered += uint64(len(batch))
		o.flushing = false
		o.cond.Broadcast()
	}
}

func (o *Outbox) deliver(ctx context.Context, batch []Event) {
	for _, ev := range batch {
		o.target.Publish(ctx, ev)
	}
}
