package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ResetConfirmation must be supplied verbatim to run an administrative reset.
const ResetConfirmation = "RESET"

// Session describes a session in a transport-friendly format.
type Session struct {
	ID              string   `json:"id"`
	Title           string   `json:"title,omitempty"`
	DisplayTitle    string   `json:"displayTitle"`
	TutorID         string   `json:"tutorId,omitempty"`
	SourceURL       string   `json:"sourceUrl,omitempty"`
	TranscriptURL   string   `json:"transcriptUrl,omitempty"`
	DownloadStatus  string   `json:"downloadStatus"`
	AnalysisStatus  string   `json:"analysisStatus"`
	Progress        int      `json:"progress"`
	QueuePosition   *int     `json:"queuePosition,omitempty"`
	RetryCount      int      `json:"retryCount"`
	ParseRetryCount int      `json:"parseRetryCount"`
	FailureReason   string   `json:"failureReason,omitempty"`
	FailureDetail   string   `json:"failureDetail,omitempty"`
	AIScore         *float64 `json:"aiScore,omitempty"`
	MediaPath       string   `json:"mediaPath,omitempty"`
	TranscriptPath  string   `json:"transcriptPath,omitempty"`
	ReportPath      string   `json:"reportPath,omitempty"`
	CreatedAt       string   `json:"createdAt,omitempty"`
	UpdatedAt       string   `json:"updatedAt,omitempty"`
}

// QueueStatus mirrors one manager's scheduling state.
type QueueStatus struct {
	Limit      int      `json:"limit"`
	Active     int      `json:"active"`
	Queued     int      `json:"queued"`
	Waiting    int      `json:"waiting"`
	Generation uint64   `json:"generation"`
	ActiveIDs  []string `json:"activeIds,omitempty"`
	QueuedIDs  []string `json:"queuedIds,omitempty"`
}

// SessionCounts tallies sessions per lifecycle state.
type SessionCounts struct {
	Total    int            `json:"total"`
	Download map[string]int `json:"download"`
	Analysis map[string]int `json:"analysis"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running         bool               `json:"running"`
	PID             int                `json:"pid"`
	StartedAt       string             `json:"startedAt,omitempty"`
	StoreBackend    string             `json:"storeBackend"`
	StorePath       string             `json:"storePath,omitempty"`
	LockFilePath    string             `json:"lockFilePath"`
	SocketPath      string             `json:"socketPath"`
	APIBind         string             `json:"apiBind,omitempty"`
	Download        QueueStatus        `json:"download"`
	Analysis        QueueStatus        `json:"analysis"`
	Sessions        SessionCounts      `json:"sessions"`
	PersistFailures int                `json:"persistFailures"`
	Subscribers     int                `json:"subscribers"`
	Dependencies    []DependencyStatus `json:"dependencies"`
}

// SessionFilter narrows a session listing. Empty fields match everything.
type SessionFilter struct {
	DownloadStatus string `json:"download_status,omitempty"`
	AnalysisStatus string `json:"analysis_status,omitempty"`
}

// SessionListResponse wraps a collection of sessions.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session Session `json:"session"`
}

// SessionInput is one already-normalized record to ingest.
type SessionInput struct {
	ID            string `json:"id"`
	SourceURL     string `json:"sourceUrl"`
	TranscriptURL string `json:"transcriptUrl,omitempty"`
	TutorID       string `json:"tutorId,omitempty"`
	Title         string `json:"title,omitempty"`
}

// AddSessionsRequest ingests sessions and queues their downloads.
type AddSessionsRequest struct {
	Sessions     []SessionInput    `json:"sessions"`
	SkipAnalysis bool              `json:"skipAnalysis,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
}

// AddSessionsResponse reports the ingestion outcome per id.
type AddSessionsResponse struct {
	Added    []string `json:"added"`
	Existing []string `json:"existing,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// RetryRequest re-queues a single session.
type RetryRequest struct {
	ID     string            `json:"id"`
	Params map[string]string `json:"params,omitempty"`
}

// RetryResponse reports the post-retry state of the session.
type RetryResponse struct {
	Session Session `json:"session"`
	Queued  bool    `json:"queued"`
	Message string  `json:"message,omitempty"`
}

// ResetRequest asks for an administrative reset. Confirm must equal
// ResetConfirmation.
type ResetRequest struct {
	Confirm         string `json:"confirm"`
	DeleteArtifacts bool   `json:"deleteArtifacts,omitempty"`
}

// ResetResponse summarizes what a reset discarded.
type ResetResponse struct {
	CancelledDownloads int  `json:"cancelledDownloads"`
	ClearedAnalyses    int  `json:"clearedAnalyses"`
	TerminatedAnalyses int  `json:"terminatedAnalyses"`
	RemovedSessions    int  `json:"removedSessions"`
	ArtifactsDeleted   bool `json:"artifactsDeleted"`
}

// TestNotificationResponse reports the outcome of a test notification.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of every non-2xx HTTP reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
