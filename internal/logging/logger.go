package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string // "console" (default) or "json"
	// OutputPaths and ErrorOutputPaths name sinks: "stdout", "stderr" or a
	// file path. Both lists feed one writer; duplicates are opened once.
	OutputPaths      []string
	ErrorOutputPaths []string
	// Development adds caller locations at every level.
	Development bool
}

// New constructs a slog logger. Source locations are included in development
// mode and whenever the level is debug.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	addSource := opts.Development || level.Level() <= slog.LevelDebug

	var build func(io.Writer, *slog.LevelVar, bool) slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		build = newPrettyHandler
	case "json":
		build = newJSONHandler
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	sinks := append(append([]string(nil), opts.OutputPaths...), opts.ErrorOutputPaths...)
	if len(sinks) == 0 {
		sinks = []string{"stdout"}
	}
	w, err := openSinks(sinks)
	if err != nil {
		return nil, err
	}
	return slog.New(build(w, level, addSource)), nil
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return parsed
}

func openSinks(paths []string) (io.Writer, error) {
	seen := make(map[string]bool, len(paths))
	var writers []io.Writer
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		switch path {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			writers = append(writers, file)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}
