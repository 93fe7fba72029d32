package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sessionqa/internal/session"
)

var (
	ErrNetwork        = errors.New("network error")
	ErrFolderNotFound = errors.New("folder not found")
	ErrNoMedia        = errors.New("no media found")
	ErrProcess        = errors.New("process failure")
	ErrTimeout        = errors.New("timeout")
	ErrOutputParse    = errors.New("output parse error")
	ErrDuplicate      = errors.New("duplicate enqueue")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later failure classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProcess
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Reason maps an error chain to the failure reason persisted on the session.
// Unmarked errors are treated as process failures, except deadline expiry
// which is always a timeout.
func Reason(err error) session.FailureReason {
	switch {
	case err == nil:
		return session.ReasonNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return session.ReasonTimeout
	case errors.Is(err, ErrNetwork):
		return session.ReasonNetworkError
	case errors.Is(err, ErrFolderNotFound):
		return session.ReasonFolderNotFound
	case errors.Is(err, ErrNoMedia):
		return session.ReasonNoMediaFound
	case errors.Is(err, ErrOutputParse):
		return session.ReasonOutputParseError
	case errors.Is(err, ErrDuplicate):
		return session.ReasonDuplicateEnqueue
	default:
		return session.ReasonProcessFailure
	}
}

// Retryable reports whether an error should trigger an automatic analysis retry.
func Retryable(err error) bool {
	return Reason(err).Retryable()
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
