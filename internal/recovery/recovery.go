package recovery

import (
	"context"
	"log/slog"

	"sessionqa/internal/download"
	"sessionqa/internal/logging"
	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

// Enqueuer accepts the sessions whose downloads must resume.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, ids []string, opts download.Options) (int, error)
}

// Result summarizes one recovery pass.
type Result struct {
	Scanned  int
	Repaired int
	Resumed  []string
}

// Repair corrects s in place and reports whether it changed and whether its
// download must be resumed.
func Repair(s *session.Session) (changed, resume bool) {
	if s == nil {
		return false, false
	}
	if s.IsDownloadInFlight() {
		if s.DownloadStatus != session.DownloadQueued {
			s.DownloadStatus = session.DownloadQueued
			changed = true
		}
		if s.AnalysisStatus != session.AnalysisPending || s.QueuePosition != nil {
			s.AnalysisStatus = session.AnalysisPending
			s.QueuePosition = nil
			changed = true
		}
		return changed, true
	}
	if s.IsAnalysisInFlight() {
		s.AnalysisStatus = session.AnalysisPending
		s.QueuePosition = nil
		changed = true
	}
	if s.AnalysisStatus != session.AnalysisQueued && s.QueuePosition != nil {
		s.QueuePosition = nil
		changed = true
	}
	return changed, false
}

// Reconcile applies Repair to every session and returns the changed records
// and the ids to resume, both in input order.
func Reconcile(all []*session.Session) (changed []*session.Session, resume []string) {
	for _, s := range all {
		c, r := Repair(s)
		if c {
			changed = append(changed, s)
		}
		if r {
			resume = append(resume, s.ID)
		}
	}
	return changed, resume
}

// Run reconciles the collection, persists the corrections, then requeues the
// interrupted downloads. Persisting happens before any download restarts so a
// second crash never observes a half-applied repair.
func Run(ctx context.Context, sessions *store.Collection, dispatcher Enqueuer, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "recovery")

	var resume []string
	scanned := 0
	changed, err := sessions.MutateAll(ctx, func(s *session.Session) bool {
		scanned++
		c, r := Repair(s)
		if r {
			resume = append(resume, s.ID)
		}
		return c
	})
	// MutateAll visits the map in arbitrary order; resume follows creation order.
	resume = orderLike(sessions.List(), resume)
	result := Result{Scanned: scanned, Repaired: len(changed), Resumed: resume}
	if err != nil {
		logging.ErrorWithContext(logger, "recovery persist failed", "recovery_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "repaired states exist only in memory until the next save"),
			logging.String(logging.FieldErrorHint, "check the store backend, then restart the daemon"),
		)
	}
	for _, s := range changed {
		logger.Debug("session repaired",
			logging.String(logging.FieldSessionID, s.ID),
			logging.String("download_status", string(s.DownloadStatus)),
			logging.String("analysis_status", string(s.AnalysisStatus)),
		)
	}

	if len(resume) > 0 && dispatcher != nil {
		accepted, enqueueErr := dispatcher.EnqueueBatch(ctx, resume, download.Options{})
		if enqueueErr != nil {
			logging.WarnWithContext(logger, "some downloads could not resume", "recovery_resume_partial",
				logging.Error(enqueueErr),
				logging.Int("accepted", accepted),
				logging.Int("requested", len(resume)),
				logging.String(logging.FieldImpact, "affected sessions stay queued without a task"),
				logging.String(logging.FieldErrorHint, "run: sessionqa retry download <id>"),
			)
		}
	}
	logger.Info("recovery complete",
		logging.Int("scanned", result.Scanned),
		logging.Int("repaired", result.Repaired),
		logging.Int("resumed", len(result.Resumed)),
	)
	return result, err
}

func orderLike(ordered []*session.Session, ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, s := range ordered {
		if _, ok := want[s.ID]; ok {
			out = append(out, s.ID)
		}
	}
	return out
}
