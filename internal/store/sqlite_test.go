package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

func TestSQLiteRoundTripKeepsNullableFields(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "sessionqa.db")
	db, err := store.OpenSQLitePath(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	scored := session.New("s-1", "https://example.com/a.mp4")
	scored.TutorID = "tutor-7"
	scored.DownloadStatus = session.DownloadCompleted
	scored.AnalysisStatus = session.AnalysisCompleted
	scored.Progress = 100
	scored.SetScore(0)
	scored.MediaPath = "/data/s-1/media.mp4"

	queued := session.New("s-2", "/local/b.mp4")
	queued.CreatedAt = scored.CreatedAt.Add(time.Second)
	queued.AnalysisStatus = session.AnalysisQueued
	queued.SetQueuePosition(2)
	queued.RetryCount = 1
	queued.ParseRetryCount = 1
	queued.FailureReason = session.ReasonOutputParseError

	if err := db.Save(ctx, []*session.Session{scored, queued}); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(loaded))
	}
	if loaded[0].ID != "s-1" || loaded[1].ID != "s-2" {
		t.Fatalf("unexpected order: %s, %s", loaded[0].ID, loaded[1].ID)
	}
	if loaded[0].AIScore == nil || *loaded[0].AIScore != 0 {
		t.Fatalf("expected zero score preserved, got %v", loaded[0].AIScore)
	}
	if loaded[0].QueuePosition != nil {
		t.Fatalf("expected nil queue position, got %d", *loaded[0].QueuePosition)
	}
	if loaded[1].QueuePosition == nil || *loaded[1].QueuePosition != 2 {
		t.Fatalf("expected queue position 2, got %v", loaded[1].QueuePosition)
	}
	if loaded[1].AIScore != nil {
		t.Fatalf("expected nil score, got %v", *loaded[1].AIScore)
	}
	if loaded[1].FailureReason != session.ReasonOutputParseError || loaded[1].ParseRetryCount != 1 {
		t.Fatalf("unexpected failure fields: %+v", loaded[1])
	}
	if loaded[0].TutorID != "tutor-7" || loaded[0].MediaPath != "/data/s-1/media.mp4" {
		t.Fatalf("unexpected metadata: %+v", loaded[0])
	}
}

func TestSQLiteSaveReplacesCollection(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLitePath(ctx, filepath.Join(t.TempDir(), "sessionqa.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Save(ctx, []*session.Session{session.New("a", ""), session.New("b", "")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.Save(ctx, []*session.Session{session.New("c", "")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "c" {
		t.Fatalf("expected only c, got %+v", loaded)
	}
}

func TestSQLiteRejectsSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessionqa.db")
	db, err := store.OpenSQLitePath(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = db.Close()

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("raw open: %v", err)
	}
	if _, err := raw.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = raw.Close()

	_, err = store.OpenSQLitePath(ctx, path)
	if !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestSQLitePing(t *testing.T) {
	db, err := store.OpenSQLitePath(context.Background(), filepath.Join(t.TempDir(), "sessionqa.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	var backend store.Backend = db
	pinger, ok := backend.(store.Pinger)
	if !ok {
		t.Fatal("sqlite backend should implement Pinger")
	}
	if err := pinger.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
