package session

import (
	"strings"
	"time"
)

// DownloadStatus represents the media fetch lifecycle of a session.
type DownloadStatus string

const (
	DownloadQueued      DownloadStatus = "queued"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
)

// AnalysisStatus represents the quality-analysis lifecycle of a session.
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisQueued    AnalysisStatus = "queued"
	AnalysisAnalyzing AnalysisStatus = "analyzing"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// FailureReason is the enumerated cause recorded on a failed session.
type FailureReason string

const (
	ReasonNone             FailureReason = ""
	ReasonNetworkError     FailureReason = "networkError"
	ReasonFolderNotFound   FailureReason = "folderNotFound"
	ReasonNoMediaFound     FailureReason = "noMediaFound"
	ReasonProcessFailure   FailureReason = "processFailure"
	ReasonTimeout          FailureReason = "timeout"
	ReasonOutputParseError FailureReason = "outputParseError"
	ReasonDuplicateEnqueue FailureReason = "duplicateEnqueue"
)

var downloadStatuses = map[DownloadStatus]struct{}{
	DownloadQueued:      {},
	DownloadDownloading: {},
	DownloadCompleted:   {},
	DownloadFailed:      {},
}

var analysisStatuses = map[AnalysisStatus]struct{}{
	AnalysisPending:   {},
	AnalysisQueued:    {},
	AnalysisAnalyzing: {},
	AnalysisCompleted: {},
	AnalysisFailed:    {},
}

// Retryable reports whether the analysis manager may retry automatically
// after a failure with this reason.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonProcessFailure, ReasonTimeout, ReasonOutputParseError:
		return true
	default:
		return false
	}
}

// Session is a single recorded tutoring session and its pipeline state.
type Session struct {
	ID              string         `json:"id"`
	TutorID         string         `json:"tutorId,omitempty"`
	Title           string         `json:"title,omitempty"`
	SourceURL       string         `json:"sourceUrl,omitempty"`
	TranscriptURL   string         `json:"transcriptUrl,omitempty"`
	DownloadStatus  DownloadStatus `json:"downloadStatus"`
	AnalysisStatus  AnalysisStatus `json:"analysisStatus"`
	Progress        int            `json:"progress"`
	QueuePosition   *int           `json:"queuePosition,omitempty"`
	RetryCount      int            `json:"retryCount"`
	ParseRetryCount int            `json:"parseRetryCount"`
	FailureReason   FailureReason  `json:"failureReason,omitempty"`
	FailureDetail   string         `json:"failureDetail,omitempty"`
	AIScore         *float64       `json:"aiScore,omitempty"`
	MediaPath       string         `json:"mediaPath,omitempty"`
	TranscriptPath  string         `json:"transcriptPath,omitempty"`
	ReportPath      string         `json:"reportPath,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// New returns a freshly ingested session in its initial states.
func New(id, sourceURL string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             strings.TrimSpace(id),
		SourceURL:      strings.TrimSpace(sourceURL),
		DownloadStatus: DownloadQueued,
		AnalysisStatus: AnalysisPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing pointer fields.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.QueuePosition != nil {
		pos := *s.QueuePosition
		cp.QueuePosition = &pos
	}
	if s.AIScore != nil {
		score := *s.AIScore
		cp.AIScore = &score
	}
	return &cp
}

// Touch stamps UpdatedAt.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// SetQueuePosition stores a 1-based queue rank.
func (s *Session) SetQueuePosition(pos int) {
	p := pos
	s.QueuePosition = &p
}

// SetScore stores the extracted quality score.
func (s *Session) SetScore(score float64) {
	v := score
	s.AIScore = &v
}

// SetAnalysisFailed marks the analysis lifecycle failed with the supplied reason.
func (s *Session) SetAnalysisFailed(reason FailureReason, detail string) {
	s.AnalysisStatus = AnalysisFailed
	s.QueuePosition = nil
	s.FailureReason = reason
	s.FailureDetail = strings.TrimSpace(detail)
}

// SetDownloadFailed marks the download lifecycle failed with the supplied reason.
func (s *Session) SetDownloadFailed(reason FailureReason, detail string) {
	s.DownloadStatus = DownloadFailed
	s.FailureReason = reason
	s.FailureDetail = strings.TrimSpace(detail)
}

// ClearFailure drops any recorded failure reason.
func (s *Session) ClearFailure() {
	s.FailureReason = ReasonNone
	s.FailureDetail = ""
}

// IsDownloadInFlight reports whether the download lifecycle claims ongoing work.
func (s *Session) IsDownloadInFlight() bool {
	return s.DownloadStatus == DownloadQueued || s.DownloadStatus == DownloadDownloading
}

// IsAnalysisInFlight reports whether the analysis lifecycle claims ongoing work.
func (s *Session) IsAnalysisInFlight() bool {
	return s.AnalysisStatus == AnalysisQueued || s.AnalysisStatus == AnalysisAnalyzing
}

// ParseDownloadStatus converts a string into a known DownloadStatus.
func ParseDownloadStatus(value string) (DownloadStatus, bool) {
	normalized := DownloadStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := downloadStatuses[normalized]
	return normalized, ok
}

// ParseAnalysisStatus converts a string into a known AnalysisStatus.
func ParseAnalysisStatus(value string) (AnalysisStatus, bool) {
	normalized := AnalysisStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := analysisStatuses[normalized]
	return normalized, ok
}

// Counts aggregates sessions per lifecycle state.
type Counts struct {
	Total             int `json:"total"`
	DownloadQueued    int `json:"downloadQueued"`
	Downloading       int `json:"downloading"`
	DownloadCompleted int `json:"downloadCompleted"`
	DownloadFailed    int `json:"downloadFailed"`
	AnalysisPending   int `json:"analysisPending"`
	AnalysisQueued    int `json:"analysisQueued"`
	Analyzing         int `json:"analyzing"`
	AnalysisCompleted int `json:"analysisCompleted"`
	AnalysisFailed    int `json:"analysisFailed"`
}

// Tally counts sessions by state.
func Tally(sessions []*Session) Counts {
	var c Counts
	for _, s := range sessions {
		if s == nil {
			continue
		}
		c.Total++
		switch s.DownloadStatus {
		case DownloadQueued:
			c.DownloadQueued++
		case DownloadDownloading:
			c.Downloading++
		case DownloadCompleted:
			c.DownloadCompleted++
		case DownloadFailed:
			c.DownloadFailed++
		}
		switch s.AnalysisStatus {
		case AnalysisPending:
			c.AnalysisPending++
		case AnalysisQueued:
			c.AnalysisQueued++
		case AnalysisAnalyzing:
			c.Analyzing++
		case AnalysisCompleted:
			c.AnalysisCompleted++
		case AnalysisFailed:
			c.AnalysisFailed++
		}
	}
	return c
}
