package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"sessionqa/internal/analysis"
	"sessionqa/internal/api"
	"sessionqa/internal/config"
	"sessionqa/internal/deps"
	"sessionqa/internal/download"
	"sessionqa/internal/logging"
	"sessionqa/internal/notifications"
	"sessionqa/internal/preflight"
	"sessionqa/internal/recovery"
	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another sessionqa daemon instance is already running")

// Option customizes a Daemon at construction.
type Option func(*options)

type options struct {
	analyzer analysis.Analyzer
	sources  []download.Source
}

// WithAnalyzer replaces the external-process analyzer.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(o *options) { o.analyzer = a }
}

// WithSources replaces the configured download source chain.
func WithSources(sources ...download.Source) Option {
	return func(o *options) { o.sources = sources }
}

// Daemon coordinates the pipeline services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	backend   store.Backend
	sessions  *store.Collection
	downloads *download.Dispatcher
	analysis  *analysis.Manager
	hub       *notifications.Hub
	ntfy      *notifications.Ntfy
	publisher notifications.Publisher
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	loops     sync.WaitGroup

	resetMu sync.Mutex
}

// New constructs a daemon around an already opened backend.
func New(cfg *config.Config, backend store.Backend, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || backend == nil {
		return nil, errors.New("daemon requires config and store backend")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.analyzer == nil {
		o.analyzer = analysis.NewProcessAnalyzer(cfg.Analysis.Command, cfg.Analysis.ExtraArgs)
	}
	if o.sources == nil {
		o.sources = download.DefaultSources(cfg)
	}

	ntfy, err := notifications.NewNtfy(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	hub := notifications.NewHub(logger)
	publishers := notifications.Fanout{hub}
	if ntfy != nil {
		publishers = append(publishers, ntfy)
	}

	sessions := store.NewCollection(backend, logger)
	manager := analysis.NewManager(analysis.SettingsFromConfig(cfg), sessions, o.analyzer, publishers, logger)
	dispatcher := download.New(download.Settings{
		MaxConcurrent: cfg.Download.MaxConcurrent,
		SessionDir:    cfg.SessionDir,
	}, sessions, o.sources, manager, publishers, logger)

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		backend:   backend,
		sessions:  sessions,
		downloads: dispatcher,
		analysis:  manager,
		hub:       hub,
		ntfy:      ntfy,
		publisher: publishers,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg.Paths.APIBind, cfg.Paths.APIToken, d, d.logger)
	hub.Initial = func() []notifications.Event {
		return []notifications.Event{notifications.QueueSnapshot(d.Snapshot())}
	}
	return d, nil
}

// Start acquires the daemon lock, loads persisted sessions, runs recovery and
// starts the snapshot loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := d.sessions.Load(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("load sessions: %w", err)
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.logPreflight(d.ctx)
	result, err := recovery.Run(d.ctx, d.sessions, d.downloads, d.logger)
	if err != nil {
		d.logger.Warn("recovery could not persist repairs", logging.Error(err))
	}

	if err := d.api.start(d.ctx); err != nil {
		d.cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.loops.Add(1)
	go d.snapshotLoop(d.ctx)

	d.logger.Info("sessionqa daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.cfg.Store.Backend),
		logging.Int("sessions", d.sessions.Len()),
		logging.Int("resumed", len(result.Resumed)),
	)
	return nil
}

// Stop cancels in-flight work, waits briefly for it to unwind and releases
// the lock. Interrupted sessions are left for recovery on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.loops.Wait()
	d.api.stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.downloads.Shutdown(shutdownCtx); err != nil {
		d.logger.Debug("downloads did not unwind before shutdown deadline", logging.Error(err))
	}
	d.analysis.TerminateActive()
	if err := d.analysis.WaitContext(shutdownCtx); err != nil {
		d.logger.Debug("analyses did not unwind before shutdown deadline", logging.Error(err))
	}
	d.hub.Close()
	d.ntfy.Close()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldImpact, "next start may report a running instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("sessionqa daemon stopped")
}

// Close stops the daemon and releases the store backend.
func (d *Daemon) Close() error {
	d.Stop()
	if d.backend != nil {
		return d.backend.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Handler returns the HTTP API handler, for embedding or tests.
func (d *Daemon) Handler() http.Handler {
	if d.api != nil {
		return d.api.server.Handler
	}
	return (&apiServer{daemon: d, logger: d.logger}).routes(d.cfg.Paths.APIToken)
}

// APIAddr returns the bound API address once Start has run.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Hub returns the websocket event hub.
func (d *Daemon) Hub() *notifications.Hub {
	return d.hub
}

// Snapshot collects both manager statuses and the session tally.
func (d *Daemon) Snapshot() notifications.Snapshot {
	return notifications.Snapshot{
		Download: d.downloads.Status(),
		Analysis: d.analysis.Status(),
		Sessions: session.Tally(d.sessions.List()),
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	snap := d.Snapshot()
	status := api.DaemonStatus{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		StoreBackend:    d.cfg.Store.Backend,
		LockFilePath:    d.lockPath,
		SocketPath:      d.cfg.SocketPath(),
		APIBind:         d.cfg.Paths.APIBind,
		Download:        api.FromStats(snap.Download),
		Analysis:        api.FromStats(snap.Analysis),
		Sessions:        api.FromCounts(snap.Sessions),
		PersistFailures: d.sessions.PersistFailures(),
		Subscribers:     d.hub.Clients(),
	}
	if !d.startedAt.IsZero() {
		status.StartedAt = d.startedAt.Format(time.RFC3339)
	}
	if p, ok := d.backend.(interface{ Path() string }); ok {
		status.StorePath = p.Path()
	}
	for _, dep := range deps.CheckBinaries(deps.Requirements(d.cfg)) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}

// Ping reports store connectivity for health checks.
func (d *Daemon) Ping(ctx context.Context) error {
	if p, ok := d.backend.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (d *Daemon) logPreflight(ctx context.Context) {
	var pinger preflight.Pinger
	if p, ok := d.backend.(store.Pinger); ok {
		pinger = p
	}
	for _, result := range preflight.RunAll(ctx, d.cfg, pinger) {
		if result.Passed {
			d.logger.Debug("preflight check passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		impact := "sessions depending on it will fail"
		if result.Optional {
			impact = "optional feature unavailable"
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, impact),
			logging.String(logging.FieldErrorHint, "run: sessionqa health"),
		)
	}
}

// snapshotLoop broadcasts a queue snapshot whenever it changed since the
// previous tick.
func (d *Daemon) snapshotLoop(ctx context.Context) {
	defer d.loops.Done()
	interval := d.cfg.SnapshotInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last notifications.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := d.Snapshot()
			if reflect.DeepEqual(snap, last) {
				continue
			}
			last = snap
			d.publisher.Publish(ctx, notifications.QueueSnapshot(snap))
		}
	}
}
