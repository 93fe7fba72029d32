package scheduler

// Stats is a point-in-time view of a dispatcher or queue.
type Stats struct {
	Limit      int      `json:"limit"`
	Active     int      `json:"active"`
	Queued     int      `json:"queued"`
	Waiting    int      `json:"waiting,omitempty"`
	Generation uint64   `json:"generation"`
	ActiveIDs  []string `json:"activeIds,omitempty"`
	QueuedIDs  []string `json:"queuedIds,omitempty"`
}

// Idle reports whether nothing is queued, waiting or running.
func (s Stats) Idle() bool {
	return s.Active == 0 && s.Queued == 0 && s.Waiting == 0
}
