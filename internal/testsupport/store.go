package testsupport

import (
	"context"
	"testing"

	"sessionqa/internal/config"
	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

// MustOpenCollection opens the configured backend, loads it into a
// collection and registers cleanup.
func MustOpenCollection(t testing.TB, cfg *config.Config) *store.Collection {
	t.Helper()

	backend, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = backend.Close()
	})
	collection := store.NewCollection(backend, nil)
	if err := collection.Load(context.Background()); err != nil {
		t.Fatalf("collection.Load: %v", err)
	}
	return collection
}

// AddSession inserts a fresh session for tests.
func AddSession(t testing.TB, collection *store.Collection, id, sourceURL string) *session.Session {
	t.Helper()

	s := session.New(id, sourceURL)
	if err := collection.Add(context.Background(), s); err != nil {
		t.Fatalf("collection.Add: %v", err)
	}
	return s
}
