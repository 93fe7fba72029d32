package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

// Redis tests need a live server: SESSIONQA_TEST_REDIS_URL=redis://localhost:6379/15
func openTestRedis(t *testing.T) *store.Redis {
	t.Helper()
	url := os.Getenv("SESSIONQA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SESSIONQA_TEST_REDIS_URL not set")
	}
	key := "sessionqa:test:" + uuid.NewString()
	r, err := store.OpenRedis(context.Background(), url, key)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Save(context.Background(), nil)
		_ = r.Close()
	})
	return r
}

func TestRedisRoundTrip(t *testing.T) {
	r := openTestRedis(t)
	ctx := context.Background()

	s := session.New("r-1", "https://example.com/r.mp4")
	s.SetScore(7.5)
	if err := r.Save(ctx, []*session.Session{s, session.New("r-2", "")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := r.Save(ctx, []*session.Session{s}); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "r-1" {
		t.Fatalf("expected only r-1, got %+v", loaded)
	}
	if loaded[0].AIScore == nil || *loaded[0].AIScore != 7.5 {
		t.Fatalf("unexpected score %v", loaded[0].AIScore)
	}
}

func TestOpenRedisRejectsBadURL(t *testing.T) {
	if _, err := store.OpenRedis(context.Background(), "not-a-url", ""); err == nil {
		t.Fatal("expected parse error")
	}
}
