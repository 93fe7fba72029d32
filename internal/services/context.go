package services

import "context"

type contextKey int

const (
	sessionIDKey contextKey = iota
	stageKey
	requestIDKey
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithSessionID tags ctx with the session being processed. Empty ids leave
// ctx untouched.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, sessionIDKey, id)
}

func SessionIDFromContext(ctx context.Context) (string, bool) { return stringFrom(ctx, sessionIDKey) }

// WithStage tags ctx with the pipeline stage ("download", "analysis", ...).
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return stringFrom(ctx, stageKey) }

// WithRequestID tags ctx with a correlation id, usually the task uuid or the
// HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return stringFrom(ctx, requestIDKey) }
