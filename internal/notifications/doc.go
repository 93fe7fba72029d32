// Package notifications fans session and queue events out to observers.
//
// Publishers are fire-and-forget: Publish never blocks on a slow consumer and
// never reports delivery. The websocket Hub streams every event to connected
// clients, the ntfy service pushes a templated message for terminal outcomes,
// and Fanout combines them for the daemon.
package notifications
