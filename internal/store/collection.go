package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"sessionqa/internal/logging"
	"sessionqa/internal/services"
	"sessionqa/internal/session"
)

var (
	// ErrExists is returned by Add when the ID is already present.
	ErrExists = errors.New("session already exists")
	// ErrNoChange may be returned from a mutate func to skip the save.
	ErrNoChange = errors.New("no change")
)

// Collection is the authoritative in-memory session set backed by a Backend.
// Every mutation is applied and persisted while holding mu.
type Collection struct {
	mu       sync.Mutex
	backend  Backend
	items    map[string]*session.Session
	logger   *slog.Logger
	failures int
}

// NewCollection wraps backend. Call Load before use.
func NewCollection(backend Backend, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Collection{
		backend: backend,
		items:   make(map[string]*session.Session),
		logger:  logging.NewComponentLogger(logger, "store"),
	}
}

// Backend exposes the driver for health checks.
func (c *Collection) Backend() Backend { return c.backend }

// Load replaces the in-memory set with the persisted one.
func (c *Collection) Load(ctx context.Context) error {
	loaded, err := c.backend.Load(ensureContext(ctx))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*session.Session, len(loaded))
	for _, s := range loaded {
		if s == nil || strings.TrimSpace(s.ID) == "" {
			continue
		}
		c.items[s.ID] = s
	}
	c.logger.Debug("sessions loaded", logging.Int("count", len(c.items)))
	return nil
}

// Get returns a copy of the session.
func (c *Collection) Get(id string) (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns copies of all sessions ordered by creation time.
func (c *Collection) List() []*session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session.Session, 0, len(c.items))
	for _, s := range c.items {
		out = append(out, s.Clone())
	}
	sortSessions(out)
	return out
}

// Len reports the number of sessions.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Add inserts a new session and persists the collection.
func (c *Collection) Add(ctx context.Context, s *session.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return services.Wrap(services.ErrValidation, "store", "add", "session id is required", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[s.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, s.ID)
	}
	c.items[s.ID] = s.Clone()
	return c.persistLocked(ctx, "add")
}

// Mutate applies fn to the stored session and persists the result. fn may
// return ErrNoChange to skip the save; any other error aborts without
// persisting, although changes fn already made stay in memory. A failed save
// is logged and counted, not returned, so pipeline callers keep going.
func (c *Collection) Mutate(ctx context.Context, id string, fn func(*session.Session) error) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", services.ErrNotFound, id)
	}
	if err := fn(s); err != nil {
		if errors.Is(err, ErrNoChange) {
			return s.Clone(), nil
		}
		return s.Clone(), err
	}
	s.Touch()
	_ = c.persistLocked(ctx, "mutate")
	return s.Clone(), nil
}

// MutateAll applies fn to every session and saves once if any returned true.
// The changed sessions are returned as copies.
func (c *Collection) MutateAll(ctx context.Context, fn func(*session.Session) bool) ([]*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed []*session.Session
	for _, s := range c.items {
		if fn(s) {
			s.Touch()
			changed = append(changed, s.Clone())
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	sortSessions(changed)
	return changed, c.persistLocked(ctx, "mutate_all")
}

// Wipe removes every session and persists the empty collection.
func (c *Collection) Wipe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*session.Session)
	return c.persistLocked(ctx, "wipe")
}

// PersistFailures reports how many saves have failed since start.
func (c *Collection) PersistFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func (c *Collection) persistLocked(ctx context.Context, op string) error {
	snapshot := make([]*session.Session, 0, len(c.items))
	for _, s := range c.items {
		snapshot = append(snapshot, s)
	}
	sortSessions(snapshot)
	if err := c.backend.Save(context.WithoutCancel(ensureContext(ctx)), snapshot); err != nil {
		c.failures++
		logging.ErrorWithContext(c.logger, "session persist failed", "store_persist_failed",
			logging.String("operation", op),
			logging.Int("session_count", len(snapshot)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the store backend; in-memory state is kept and the next change retries the save"),
		)
		return err
	}
	return nil
}
