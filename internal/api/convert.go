package api

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sessionqa/internal/scheduler"
	"sessionqa/internal/services"
	"sessionqa/internal/session"
)

// FromSession converts a session record to its API representation.
func FromSession(s *session.Session) Session {
	if s == nil {
		return Session{}
	}
	dto := Session{
		ID:              s.ID,
		Title:           s.Title,
		DisplayTitle:    DisplayTitle(s),
		TutorID:         s.TutorID,
		SourceURL:       s.SourceURL,
		TranscriptURL:   s.TranscriptURL,
		DownloadStatus:  string(s.DownloadStatus),
		AnalysisStatus:  string(s.AnalysisStatus),
		Progress:        s.Progress,
		RetryCount:      s.RetryCount,
		ParseRetryCount: s.ParseRetryCount,
		FailureReason:   string(s.FailureReason),
		FailureDetail:   s.FailureDetail,
		MediaPath:       s.MediaPath,
		TranscriptPath:  s.TranscriptPath,
		ReportPath:      s.ReportPath,
	}
	if s.QueuePosition != nil {
		pos := *s.QueuePosition
		dto.QueuePosition = &pos
	}
	if s.AIScore != nil {
		score := *s.AIScore
		dto.AIScore = &score
	}
	if !s.CreatedAt.IsZero() {
		dto.CreatedAt = s.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = s.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// DisplayTitle renders a human label for s: the ingested title in title case,
// falling back to the id.
func DisplayTitle(s *session.Session) string {
	title := strings.Join(strings.Fields(s.Title), " ")
	if title == "" {
		return s.ID
	}
	return cases.Title(language.Und).String(strings.ToLower(title))
}

// FromStats converts manager statistics.
func FromStats(stats scheduler.Stats) QueueStatus {
	return QueueStatus{
		Limit:      stats.Limit,
		Active:     stats.Active,
		Queued:     stats.Queued,
		Waiting:    stats.Waiting,
		Generation: stats.Generation,
		ActiveIDs:  append([]string(nil), stats.ActiveIDs...),
		QueuedIDs:  append([]string(nil), stats.QueuedIDs...),
	}
}

// FromCounts converts a tally into per-lifecycle maps keyed by status.
func FromCounts(c session.Counts) SessionCounts {
	return SessionCounts{
		Total: c.Total,
		Download: map[string]int{
			string(session.DownloadQueued):      c.DownloadQueued,
			string(session.DownloadDownloading): c.Downloading,
			string(session.DownloadCompleted):   c.DownloadCompleted,
			string(session.DownloadFailed):      c.DownloadFailed,
		},
		Analysis: map[string]int{
			string(session.AnalysisPending):   c.AnalysisPending,
			string(session.AnalysisQueued):    c.AnalysisQueued,
			string(session.AnalysisAnalyzing): c.Analyzing,
			string(session.AnalysisCompleted): c.AnalysisCompleted,
			string(session.AnalysisFailed):    c.AnalysisFailed,
		},
	}
}

// ToSession builds a fresh session from an ingestion record.
func ToSession(in SessionInput) *session.Session {
	s := session.New(in.ID, in.SourceURL)
	s.TranscriptURL = strings.TrimSpace(in.TranscriptURL)
	s.TutorID = strings.TrimSpace(in.TutorID)
	s.Title = strings.TrimSpace(in.Title)
	return s
}

// Matches reports whether s passes every non-empty filter field.
func (f SessionFilter) Matches(s *session.Session) bool {
	if s == nil {
		return false
	}
	if want := strings.TrimSpace(f.DownloadStatus); want != "" && string(s.DownloadStatus) != want {
		return false
	}
	if want := strings.TrimSpace(f.AnalysisStatus); want != "" && string(s.AnalysisStatus) != want {
		return false
	}
	return true
}

// Normalize canonicalizes the filter's status names. Unknown statuses are
// validation errors.
func (f SessionFilter) Normalize() (SessionFilter, error) {
	var out SessionFilter
	if value := strings.TrimSpace(f.DownloadStatus); value != "" {
		status, ok := session.ParseDownloadStatus(value)
		if !ok {
			return SessionFilter{}, fmt.Errorf("%w: unknown download status %q", services.ErrValidation, value)
		}
		out.DownloadStatus = string(status)
	}
	if value := strings.TrimSpace(f.AnalysisStatus); value != "" {
		status, ok := session.ParseAnalysisStatus(value)
		if !ok {
			return SessionFilter{}, fmt.Errorf("%w: unknown analysis status %q", services.ErrValidation, value)
		}
		out.AnalysisStatus = string(status)
	}
	return out, nil
}

// FilterSessions converts the sessions that pass f.
func FilterSessions(sessions []*session.Session, f SessionFilter) (SessionListResponse, error) {
	f, err := f.Normalize()
	if err != nil {
		return SessionListResponse{}, err
	}
	out := SessionListResponse{Sessions: make([]Session, 0, len(sessions))}
	for _, s := range sessions {
		if f.Matches(s) {
			out.Sessions = append(out.Sessions, FromSession(s))
		}
	}
	return out, nil
}
