package logging

import (
	"context"
	"log/slog"
	"time"
)

// Attr aliases slog.Attr so callers only import this package.
type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }
func Int(key string, value int) Attr { return slog.Int(key, value) }
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }
func Uint64(key string, value uint64) Attr { return slog.Uint64(key, value) }
func Float64(key string, value float64) Attr { return slog.Float64(key, value) }
func Bool(key string, value bool) Attr { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

// Error renders err under the "error" key. A nil error still produces the key
// so log lines keep a stable shape.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attrs to the variadic form slog.Logger methods take.
func Args(attrs ...Attr) []any {
	out := make([]any, len(attrs))
	for i, attr := range attrs {
		out[i] = attr
	}
	return out
}

// NewNop returns a logger that drops every record.
func NewNop() *slog.Logger {
	return slog.New(discardHandler{})
}

// NewComponentLogger tags logger with the component key. A nil logger yields
// a discarding one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. Missing keys are filled with generic values.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		slog.String(FieldEventType, eventType),
		slog.String(FieldErrorHint, "check logs for details"),
		slog.String(FieldImpact, "session processing may be degraded"),
	)
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		slog.String(FieldEventType, eventType),
		slog.String(FieldErrorHint, "check logs for details"),
	)
	logger.Error(msg, Args(attrs...)...)
}

func withDefaults(attrs []Attr, defaults ...Attr) []Attr {
	present := make(map[string]bool, len(attrs))
	for _, attr := range attrs {
		present[attr.Key] = true
	}
	for _, def := range defaults {
		if !present[def.Key] {
			attrs = append(attrs, def)
		}
	}
	return attrs
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h discardHandler) WithGroup(string) slog.Handler { return h }
