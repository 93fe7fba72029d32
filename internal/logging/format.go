package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(consoleTimeLayout)
}

// attrString renders v without quoting, for header fields such as the
// component or session id.
func attrString(v slog.Value) string {
	return rawValue(v.Resolve())
}

// formatValue renders v for key/value output, quoting strings that would be
// ambiguous next to other fields.
func formatValue(v slog.Value) string {
	v = v.Resolve()
	raw := rawValue(v)
	switch v.Kind() {
	case slog.KindString, slog.KindAny:
		return quoteIfNeeded(raw)
	default:
		return raw
	}
}

func rawValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
