package logging

import (
	"context"
	"log/slog"

	"sessionqa/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID is the standardized structured logging key for session identifiers.
	FieldSessionID = "session_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldEventType names the machine-readable event a log line records.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldFailureReason is the enumerated session failure reason.
	FieldFailureReason = "failure_reason"
	// FieldRetryCount is the analysis retry counter at the time of logging.
	FieldRetryCount = "retry_count"
	// FieldProgressPercent is the download progress percentage.
	FieldProgressPercent = "progress_percent"
	// FieldQueuePosition is the 1-based analysis queue rank.
	FieldQueuePosition = "queue_position"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
