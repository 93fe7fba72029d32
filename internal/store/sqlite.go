package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sessionqa/internal/config"
	"sessionqa/internal/session"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sessionColumns = "id, tutor_id, title, source_url, transcript_url, download_status, analysis_status, progress, queue_position, retry_count, parse_retry_count, failure_reason, failure_detail, ai_score, media_path, transcript_path, report_path, created_at, updated_at"

// SQLite persists sessions in a single-table SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the session database under the data dir.
func OpenSQLite(ctx context.Context, cfg *config.Config) (*SQLite, error) {
	return OpenSQLitePath(ctx, cfg.DatabasePath())
}

// OpenSQLitePath opens a database at an explicit path.
func OpenSQLitePath(ctx context.Context, dbPath string) (*SQLite, error) {
	ctx = ensureContext(ctx)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLite{db: db, path: dbPath}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

// Ping implements Pinger.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ensureContext(ctx))
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load implements Backend.
func (s *SQLite) Load(ctx context.Context) ([]*session.Session, error) {
	ctx = ensureContext(ctx)
	var out []*session.Session
	err := retryOnBusy(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY created_at, id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return err
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return out, nil
}

// Save implements Backend. The table is rewritten inside one transaction.
func (s *SQLite) Save(ctx context.Context, sessions []*session.Session) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO sessions ("+sessionColumns+") VALUES ("+makePlaceholders(19)+")")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sess := range sessions {
			if sess == nil {
				continue
			}
			if _, err := stmt.ExecContext(ctx, sessionArgs(sess)...); err != nil {
				return fmt.Errorf("insert %s: %w", sess.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'sessionqa reset' or delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*session.Session, error) {
	var (
		id             string
		tutorID        sql.NullString
		title          sql.NullString
		sourceURL      sql.NullString
		transcriptURL  sql.NullString
		downloadStatus string
		analysisStatus string
		progress       int
		queuePosition  sql.NullInt64
		retryCount     int
		parseRetries   int
		failureReason  sql.NullString
		failureDetail  sql.NullString
		aiScore        sql.NullFloat64
		mediaPath      sql.NullString
		transcriptPath sql.NullString
		reportPath     sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&tutorID,
		&title,
		&sourceURL,
		&transcriptURL,
		&downloadStatus,
		&analysisStatus,
		&progress,
		&queuePosition,
		&retryCount,
		&parseRetries,
		&failureReason,
		&failureDetail,
		&aiScore,
		&mediaPath,
		&transcriptPath,
		&reportPath,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	sess := &session.Session{
		ID:              id,
		TutorID:         tutorID.String,
		Title:           title.String,
		SourceURL:       sourceURL.String,
		TranscriptURL:   transcriptURL.String,
		DownloadStatus:  session.DownloadStatus(downloadStatus),
		AnalysisStatus:  session.AnalysisStatus(analysisStatus),
		Progress:        progress,
		RetryCount:      retryCount,
		ParseRetryCount: parseRetries,
		FailureReason:   session.FailureReason(failureReason.String),
		FailureDetail:   failureDetail.String,
		MediaPath:       mediaPath.String,
		TranscriptPath:  transcriptPath.String,
		ReportPath:      reportPath.String,
	}
	if queuePosition.Valid {
		sess.SetQueuePosition(int(queuePosition.Int64))
	}
	if aiScore.Valid {
		sess.SetScore(aiScore.Float64)
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		sess.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		sess.UpdatedAt = updated
	}
	return sess, nil
}

func sessionArgs(s *session.Session) []any {
	var queuePosition any
	if s.QueuePosition != nil {
		queuePosition = *s.QueuePosition
	}
	var score any
	if s.AIScore != nil {
		score = *s.AIScore
	}
	return []any{
		s.ID,
		nullableString(s.TutorID),
		nullableString(s.Title),
		nullableString(s.SourceURL),
		nullableString(s.TranscriptURL),
		string(s.DownloadStatus),
		string(s.AnalysisStatus),
		s.Progress,
		queuePosition,
		s.RetryCount,
		s.ParseRetryCount,
		nullableString(string(s.FailureReason)),
		nullableString(s.FailureDetail),
		score,
		nullableString(s.MediaPath),
		nullableString(s.TranscriptPath),
		nullableString(s.ReportPath),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		value = time.Now()
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
