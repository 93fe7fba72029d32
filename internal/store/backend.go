package store

import (
	"context"
	"errors"
	"fmt"

	"sessionqa/internal/config"
	"sessionqa/internal/session"
)

// Backend is a bulk persistence driver keyed by session ID.
type Backend interface {
	// Load returns every persisted session.
	Load(ctx context.Context) ([]*session.Session, error)
	// Save replaces the persisted collection with sessions in one atomic write.
	Save(ctx context.Context, sessions []*session.Session) error
	// Close releases driver resources.
	Close() error
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrUnknownBackend is returned when the configured backend is unsupported.
var ErrUnknownBackend = errors.New("unknown store backend")

// Open builds the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("store: config is required")
	}
	switch cfg.Store.Backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, cfg)
	case BackendRedis:
		return OpenRedis(ctx, cfg.Store.RedisURL, cfg.Store.RedisKey)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend)
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
