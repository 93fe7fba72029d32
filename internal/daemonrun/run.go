package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sessionqa/internal/config"
	"sessionqa/internal/daemon"
	"sessionqa/internal/deps"
	"sessionqa/internal/fileutil"
	"sessionqa/internal/ipc"
	"sessionqa/internal/logging"
	"sessionqa/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the sessionqa daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("sessionqa-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update sessionqa.log link: %v\n", err)
	}
	pruneLogs(logger, cfg, logPath)
	pidPath := filepath.Join(cfg.Paths.LogDir, "sessionqa.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	backend, err := store.Open(signalCtx, cfg)
	if err != nil {
		logger.Error("open session store", logging.Error(err), logging.String("backend", cfg.Store.Backend))
		return err
	}

	d, err := daemon.New(cfg, backend, logger)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, store access and the daemon lock"),
			logging.String(logging.FieldImpact, "no sessions will be processed"),
		)
		return err
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("sessionqa daemon shutting down")
	return nil
}

// ensureCurrentLogPointer points logDir/sessionqa.log at target. The link is
// built under a temporary name and renamed over the old one, so readers never
// see a missing pointer. Filesystems without symlinks get a hard link.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "sessionqa.log")
	staged := current + ".next"
	_ = os.Remove(staged)
	if err := os.Symlink(filepath.Base(target), staged); err != nil {
		if err := os.Link(target, staged); err != nil {
			return fmt.Errorf("link log pointer: %w", err)
		}
	}
	if err := os.Rename(staged, current); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("replace log pointer: %w", err)
	}
	return nil
}

// writePIDFile records the daemon pid through a synced temp file so a reader
// never sees a partial value.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	part := path + ".part"
	if err := os.WriteFile(part, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return err
	}
	return fileutil.Finalize(part, path)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_backend", cfg.Store.Backend),
		logging.Bool("ntfy_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Int("download_concurrency", cfg.Download.MaxConcurrent),
		logging.Int("analysis_concurrency", cfg.Analysis.MaxConcurrent),
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		key := strings.ReplaceAll(strings.ToLower(status.Name), " ", "_")
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_command", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func pruneLogs(logger *slog.Logger, cfg *config.Config, current string) {
	maxAge := time.Duration(cfg.Logging.RetentionDays) * 24 * time.Hour
	removed, err := logging.PruneLogs(cfg.Paths.LogDir, "sessionqa-*.log", maxAge, current)
	for _, path := range removed {
		logger.Info("log pruned", logging.String("path", path), logging.String(logging.FieldEventType, "log_pruned"))
	}
	if err != nil {
		logging.WarnWithContext(logger, "log retention incomplete", "log_retention_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check file permissions and log_dir ownership"),
			logging.String(logging.FieldImpact, "old log files remain on disk"),
		)
	}
}
