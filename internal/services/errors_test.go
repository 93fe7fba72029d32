package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"sessionqa/internal/services"
	"sessionqa/internal/session"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrProcess, "analysis", "invoke", "analyzer exited", base)
	if !errors.Is(err, services.ErrProcess) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"analysis", "invoke", "analyzer exited"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsToProcess(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrProcess) {
		t.Fatalf("expected process marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestReasonMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want session.FailureReason
	}{
		{"nil", nil, session.ReasonNone},
		{"network", services.Wrap(services.ErrNetwork, "download", "fetch", "", nil), session.ReasonNetworkError},
		{"timeout marker", services.Wrap(services.ErrTimeout, "analysis", "", "", nil), session.ReasonTimeout},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), session.ReasonTimeout},
		{"folder", services.Wrap(services.ErrFolderNotFound, "", "", "", nil), session.ReasonFolderNotFound},
		{"media", services.Wrap(services.ErrNoMedia, "", "", "", nil), session.ReasonNoMediaFound},
		{"parse", services.Wrap(services.ErrOutputParse, "", "", "", nil), session.ReasonOutputParseError},
		{"duplicate", services.Wrap(services.ErrDuplicate, "", "", "", nil), session.ReasonDuplicateEnqueue},
		{"unmarked", errors.New("exit status 1"), session.ReasonProcessFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Reason(tt.err); got != tt.want {
				t.Fatalf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrOutputParse, "", "", "", nil)) {
		t.Fatal("expected parse errors to be retryable")
	}
	if services.Retryable(services.Wrap(services.ErrNetwork, "", "", "", nil)) {
		t.Fatal("expected network errors to be non-retryable")
	}
}
