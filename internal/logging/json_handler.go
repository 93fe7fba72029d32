package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// newJSONHandler writes one object per line with short keys (ts, level, msg)
// and UTC RFC 3339 timestamps so log shippers can parse the daemon log.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: renameJSONAttr,
	})
}

func renameJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339))
		}
		attr.Key = "ts"
	case slog.LevelKey:
		return slog.String("level", strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			return slog.String("source", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return attr
}
