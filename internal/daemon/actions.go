package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"sessionqa/internal/analysis"
	"sessionqa/internal/api"
	"sessionqa/internal/download"
	"sessionqa/internal/logging"
	"sessionqa/internal/notifications"
	"sessionqa/internal/services"
	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

// AddSessions ingests new session records and queues their downloads.
// Records whose ID is already known are reported as existing and left
// untouched.
func (d *Daemon) AddSessions(ctx context.Context, req api.AddSessionsRequest) (api.AddSessionsResponse, error) {
	if len(req.Sessions) == 0 {
		return api.AddSessionsResponse{}, services.Wrap(services.ErrValidation, "ingest", "add sessions", "no sessions supplied", nil)
	}
	resp := api.AddSessionsResponse{}
	added := make([]string, 0, len(req.Sessions))
	for _, in := range req.Sessions {
		rec := api.ToSession(in)
		if rec.ID == "" {
			resp.Errors = append(resp.Errors, "session id is required")
			continue
		}
		if rec.SourceURL == "" {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: source url is required", rec.ID))
			continue
		}
		if err := d.sessions.Add(ctx, rec); err != nil {
			if errors.Is(err, store.ErrExists) {
				resp.Existing = append(resp.Existing, rec.ID)
				continue
			}
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			continue
		}
		d.publisher.Publish(ctx, notifications.SessionUpdated(rec, false))
		added = append(added, rec.ID)
	}
	resp.Added = added

	if len(added) > 0 {
		accepted, err := d.downloads.EnqueueBatch(ctx, added, download.Options{
			SkipAnalysis: req.SkipAnalysis,
			Params:       req.Params,
		})
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		}
		d.logger.Info("sessions ingested",
			logging.Int("added", len(added)),
			logging.Int("queued", accepted),
			logging.Int("existing", len(resp.Existing)),
			logging.Int("rejected", len(resp.Errors)),
		)
	}
	return resp, nil
}

// ListSessions returns every session in insertion order.
func (d *Daemon) ListSessions() []*session.Session {
	return d.sessions.List()
}

// GetSession returns one session by ID.
func (d *Daemon) GetSession(id string) (*session.Session, error) {
	s, ok := d.sessions.Get(strings.TrimSpace(id))
	if !ok {
		return nil, fmt.Errorf("%w: session %s", services.ErrNotFound, id)
	}
	return s, nil
}

// RetryDownload re-runs the fetch for a session. Analysis results from an
// earlier download are discarded along with their retry counters.
func (d *Daemon) RetryDownload(ctx context.Context, req api.RetryRequest) (api.RetryResponse, error) {
	current, err := d.GetSession(req.ID)
	if err != nil {
		return api.RetryResponse{}, err
	}
	if current.IsDownloadInFlight() {
		return api.RetryResponse{Session: api.FromSession(current), Message: "download already in progress"}, nil
	}
	if current.IsAnalysisInFlight() {
		return api.RetryResponse{}, services.Wrap(services.ErrDuplicate, "download", "retry", "analysis in progress for "+current.ID, nil)
	}
	if _, err := d.sessions.Mutate(ctx, current.ID, func(s *session.Session) error {
		s.AnalysisStatus = session.AnalysisPending
		s.AIScore = nil
		s.ReportPath = ""
		s.RetryCount = 0
		s.ParseRetryCount = 0
		s.ClearFailure()
		return nil
	}); err != nil {
		return api.RetryResponse{}, err
	}
	if err := d.downloads.Enqueue(ctx, current.ID, download.Options{Params: req.Params}); err != nil {
		return api.RetryResponse{}, err
	}
	updated, _ := d.sessions.Get(current.ID)
	d.logger.Info("download retry requested", logging.String(logging.FieldSessionID, current.ID))
	return api.RetryResponse{Session: api.FromSession(updated), Queued: true, Message: "download queued"}, nil
}

// RetryAnalysis re-queues analysis for a downloaded session with fresh retry
// budgets.
func (d *Daemon) RetryAnalysis(ctx context.Context, req api.RetryRequest) (api.RetryResponse, error) {
	current, err := d.GetSession(req.ID)
	if err != nil {
		return api.RetryResponse{}, err
	}
	if current.DownloadStatus != session.DownloadCompleted {
		return api.RetryResponse{}, services.Wrap(services.ErrValidation, "analysis", "retry",
			fmt.Sprintf("download for %s is %s", current.ID, current.DownloadStatus), nil)
	}
	if current.IsAnalysisInFlight() {
		return api.RetryResponse{Session: api.FromSession(current), Message: "analysis already in progress"}, nil
	}
	if _, err := d.sessions.Mutate(ctx, current.ID, func(s *session.Session) error {
		s.RetryCount = 0
		s.ParseRetryCount = 0
		s.ClearFailure()
		return nil
	}); err != nil {
		return api.RetryResponse{}, err
	}
	if err := d.analysis.Enqueue(ctx, current.ID, analysis.Options{Params: req.Params}); err != nil {
		updated, _ := d.sessions.Get(current.ID)
		return api.RetryResponse{Session: api.FromSession(updated)}, err
	}
	updated, _ := d.sessions.Get(current.ID)
	d.logger.Info("analysis retry requested", logging.String(logging.FieldSessionID, current.ID))
	return api.RetryResponse{Session: api.FromSession(updated), Queued: true, Message: "analysis queued"}, nil
}

// TestNotification sends a test push through ntfy.
func (d *Daemon) TestNotification(ctx context.Context) (api.TestNotificationResponse, error) {
	if d.ntfy == nil {
		return api.TestNotificationResponse{Message: "ntfy topic not configured"}, nil
	}
	if err := d.ntfy.TestNotification(ctx); err != nil {
		return api.TestNotificationResponse{Message: err.Error()}, err
	}
	return api.TestNotificationResponse{Sent: true, Message: "test notification sent"}, nil
}

// Reset cancels every download and analysis, wipes all persisted sessions
// and optionally deletes downloaded artifacts. Live analyses are waited on
// before records are removed so none of them can write back afterwards.
func (d *Daemon) Reset(ctx context.Context, req api.ResetRequest) (api.ResetResponse, error) {
	if strings.TrimSpace(req.Confirm) != api.ResetConfirmation {
		return api.ResetResponse{}, services.Wrap(services.ErrValidation, "reset", "confirm",
			fmt.Sprintf("confirmation must be %q", api.ResetConfirmation), nil)
	}
	d.resetMu.Lock()
	defer d.resetMu.Unlock()

	resp := api.ResetResponse{}
	resp.CancelledDownloads = len(d.downloads.CancelAll())
	// Fetches finishing now may still hand off, so drain them before the
	// analysis queue is cleared.
	d.downloads.Wait()
	resp.ClearedAnalyses = len(d.analysis.Clear(ctx))
	resp.TerminatedAnalyses = d.analysis.TerminateActive()
	if err := d.analysis.WaitContext(ctx); err != nil {
		return resp, fmt.Errorf("wait for analyses: %w", err)
	}

	resp.RemovedSessions = d.sessions.Len()
	if err := d.sessions.Wipe(ctx); err != nil {
		logging.ErrorWithContext(d.logger, "reset could not wipe persisted sessions", "reset_wipe_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "sessions may reappear after restart"),
			logging.String(logging.FieldErrorHint, "check store connectivity and retry the reset"),
		)
		return resp, fmt.Errorf("wipe sessions: %w", err)
	}

	if req.DeleteArtifacts {
		dir := d.cfg.SessionsDir()
		if err := os.RemoveAll(dir); err != nil {
			return resp, fmt.Errorf("delete artifacts: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return resp, fmt.Errorf("recreate sessions dir: %w", err)
		}
		resp.ArtifactsDeleted = true
	}

	d.publisher.Publish(ctx, notifications.QueueSnapshot(d.Snapshot()))
	d.logger.Info("administrative reset complete",
		logging.Int("cancelled_downloads", resp.CancelledDownloads),
		logging.Int("cleared_analyses", resp.ClearedAnalyses),
		logging.Int("terminated_analyses", resp.TerminatedAnalyses),
		logging.Int("removed_sessions", resp.RemovedSessions),
		logging.Bool("artifacts_deleted", resp.ArtifactsDeleted),
	)
	return resp, nil
}
