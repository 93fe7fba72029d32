package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sessionqa/internal/config"
	"sessionqa/internal/fileutil"
	"sessionqa/internal/logging"
	"sessionqa/internal/notifications"
	"sessionqa/internal/scheduler"
	"sessionqa/internal/services"
	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

const (
	// PriorityDefault is used for operator and hand-off enqueues.
	PriorityDefault = 0
	// PriorityRetry is used for automatic retries so fresh work goes first.
	PriorityRetry = -1
)

// Options tune a single enqueue.
type Options struct {
	Params map[string]string
}

// Settings configure a Manager.
type Settings struct {
	MaxConcurrent        int
	Timeout              time.Duration
	MaxRetries           int
	ParseErrorMaxRetries int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	DeleteMediaOnSuccess bool
	// MediaRoot bounds media deletion; files outside it are never removed.
	MediaRoot string
	// ReportPath returns the report destination for a session.
	ReportPath func(id string) string
}

// SettingsFromConfig maps the [analysis] section onto Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxConcurrent:        cfg.Analysis.MaxConcurrent,
		Timeout:              cfg.AnalysisTimeout(),
		MaxRetries:           cfg.Analysis.MaxRetries,
		ParseErrorMaxRetries: cfg.Analysis.ParseErrorMaxRetries,
		BackoffBase:          cfg.BackoffBase(),
		BackoffMax:           cfg.BackoffMax(),
		DeleteMediaOnSuccess: cfg.Analysis.DeleteMediaOnSuccess,
		MediaRoot:            cfg.SessionsDir(),
		ReportPath: func(id string) string {
			return filepath.Join(cfg.SessionDir(id), "report.txt")
		},
	}
}

type queued struct {
	opts   Options
	manual bool
}

type activeRun struct {
	gen    uint64
	cancel context.CancelFunc
	opts   Options
}

type retryTimer struct {
	timer *time.Timer
	gen   uint64
	opts  Options
}

// Manager owns the analysis queue, the active set and the retry policy.
type Manager struct {
	settings Settings
	sessions *store.Collection
	analyzer Analyzer
	outbox   *notifications.Outbox
	logger   *slog.Logger

	mu sync.Mutex
	// flushTo is the outbox sequence of the last event queued under mu.
	flushTo uint64
	queue   *scheduler.Queue[queued]
	active  map[string]*activeRun
	timers  map[string]*retryTimer
	sem     *scheduler.Semaphore
	gen     scheduler.Generation
	wg      sync.WaitGroup
}

// NewManager builds a manager. publisher and logger may be nil.
func NewManager(settings Settings, sessions *store.Collection, analyzer Analyzer, publisher notifications.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Minute
	}
	if settings.ReportPath == nil {
		settings.ReportPath = func(id string) string { return filepath.Join(id, "report.txt") }
	}
	return &Manager{
		settings: settings,
		sessions: sessions,
		analyzer: analyzer,
		outbox:   notifications.NewOutbox(publisher),
		logger:   logging.NewComponentLogger(logger, "analysis"),
		queue:    scheduler.NewQueue[queued](),
		active:   make(map[string]*activeRun),
		timers:   make(map[string]*retryTimer),
		sem:      scheduler.NewSemaphore(settings.MaxConcurrent),
	}
}

// emitLocked queues event for delivery once mu is released.
func (m *Manager) emitLocked(event notifications.Event) {
	m.flushTo = m.outbox.Queue(event)
}

// unlock releases mu, then publishes everything queued while it was held.
func (m *Manager) unlock(ctx context.Context) {
	seq := m.flushTo
	m.mu.Unlock()
	m.outbox.Flush(ctx, seq)
}

// HandOff lets the download dispatcher feed completed sessions in.
func (m *Manager) HandOff(ctx context.Context, id string, params map[string]string) {
	if err := m.Enqueue(ctx, id, Options{Params: params}); err != nil {
		m.logger.Debug("hand-off rejected", logging.String(logging.FieldSessionID, id), logging.Error(err))
	}
}

// Enqueue queues a session at default priority. Sessions already queued or
// active are ignored. Sessions whose media is missing are failed immediately
// with noMediaFound or folderNotFound. A session that is out of retries is
// ignored until an operator resets its counters.
func (m *Manager) Enqueue(ctx context.Context, id string, opts Options) error {
	m.mu.Lock()
	defer m.unlock(ctx)
	_, err := m.enqueueLocked(ctx, strings.TrimSpace(id), opts, PriorityDefault, true)
	return err
}

// EnqueueMultiple queues several sessions and reports how many were accepted.
func (m *Manager) EnqueueMultiple(ctx context.Context, ids []string, opts Options) (int, error) {
	m.mu.Lock()
	defer m.unlock(ctx)
	accepted := 0
	var errs []error
	for _, id := range ids {
		ok, err := m.enqueueLocked(ctx, strings.TrimSpace(id), opts, PriorityDefault, true)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			accepted++
		}
	}
	return accepted, errors.Join(errs...)
}

func (m *Manager) enqueueLocked(ctx context.Context, id string, opts Options, priority int, manual bool) (bool, error) {
	if id == "" {
		return false, services.Wrap(services.ErrValidation, "analysis", "enqueue", "session id is required", nil)
	}
	logger := m.logger.With(logging.String(logging.FieldSessionID, id))
	if m.queue.Contains(id) || m.isActiveLocked(id) {
		logger.Debug("analysis already pending; ignoring enqueue",
			logging.String(logging.FieldFailureReason, string(session.ReasonDuplicateEnqueue)))
		return false, nil
	}
	current, ok := m.sessions.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: session %s", services.ErrNotFound, id)
	}
	if m.exhausted(current) {
		logger.Info("analysis retries exhausted; ignoring enqueue",
			logging.Int(logging.FieldRetryCount, current.RetryCount),
			logging.String(logging.FieldFailureReason, string(current.FailureReason)),
		)
		return false, nil
	}
	if reason, detail := checkMedia(current); reason != session.ReasonNone {
		failed, err := m.sessions.Mutate(ctx, id, func(s *session.Session) error {
			s.SetAnalysisFailed(reason, detail)
			return nil
		})
		if err != nil {
			return false, err
		}
		logging.WarnWithContext(logger, "analysis rejected: media missing", "analysis_media_missing",
			logging.String(logging.FieldFailureReason, string(reason)),
			logging.String("detail", detail),
			logging.String(logging.FieldImpact, "session will not be analyzed"),
			logging.String(logging.FieldErrorHint, "re-download the session, then retry analysis"),
		)
		m.emitLocked(notifications.SessionUpdated(failed, true))
		return false, services.Wrap(markerFor(reason), "analysis", "enqueue", detail, nil)
	}

	if manual {
		m.stopTimerLocked(id)
	}
	m.queue.Push(id, priority, queued{opts: cloneOptions(opts), manual: manual})
	updated, err := m.sessions.Mutate(ctx, id, func(s *session.Session) error {
		s.AnalysisStatus = session.AnalysisQueued
		if manual {
			s.ClearFailure()
		}
		return nil
	})
	if err != nil {
		m.queue.Remove(id)
		return false, err
	}
	m.emitLocked(notifications.SessionUpdated(updated, false))
	logger.Debug("analysis queued", logging.Int("priority", priority), logging.Bool("manual", manual))
	m.dispatchLocked(ctx)
	return true, nil
}

// exhausted reports whether automatic retries for s are spent.
func (m *Manager) exhausted(s *session.Session) bool {
	if s.AnalysisStatus != session.AnalysisFailed {
		return false
	}
	if s.RetryCount >= m.settings.MaxRetries && s.FailureReason.Retryable() {
		return true
	}
	return s.FailureReason == session.ReasonOutputParseError && s.ParseRetryCount >= m.settings.ParseErrorMaxRetries
}

func checkMedia(s *session.Session) (session.FailureReason, string) {
	media := strings.TrimSpace(s.MediaPath)
	if media == "" {
		return session.ReasonNoMediaFound, "session has no media path"
	}
	if info, err := os.Stat(filepath.Dir(media)); err != nil || !info.IsDir() {
		return session.ReasonFolderNotFound, "media directory not found: " + filepath.Dir(media)
	}
	if info, err := os.Stat(media); err != nil || info.IsDir() {
		return session.ReasonNoMediaFound, "media file not found: " + media
	}
	return session.ReasonNone, ""
}

func markerFor(reason session.FailureReason) error {
	if reason == session.ReasonFolderNotFound {
		return services.ErrFolderNotFound
	}
	return services.ErrNoMedia
}

func (m *Manager) isActiveLocked(id string) bool {
	_, ok := m.active[id]
	return ok
}

func (m *Manager) dispatchLocked(ctx context.Context) {
	for m.queue.Len() > 0 {
		if !m.sem.TryAcquire() {
			break
		}
		id, entry, _ := m.queue.Pop()
		current, err := m.sessions.Mutate(ctx, id, func(s *session.Session) error {
			s.AnalysisStatus = session.AnalysisAnalyzing
			s.QueuePosition = nil
			return nil
		})
		if err != nil {
			m.sem.Release()
			m.logger.Debug("queued session vanished", logging.String(logging.FieldSessionID, id), logging.Error(err))
			continue
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		token := m.gen.Current()
		m.active[id] = &activeRun{gen: token.Value(), cancel: cancel, opts: entry.opts}
		m.emitLocked(notifications.SessionUpdated(current, false))
		m.wg.Add(1)
		go m.run(runCtx, token, current, entry.opts)
	}
	m.reindexLocked(ctx)
}

// reindexLocked rewrites dense 1..N queue positions for every queued session.
func (m *Manager) reindexLocked(ctx context.Context) {
	positions := m.queue.Positions()
	changed, _ := m.sessions.MutateAll(ctx, func(s *session.Session) bool {
		pos, queuedNow := positions[s.ID]
		if !queuedNow {
			if s.AnalysisStatus == session.AnalysisQueued && s.QueuePosition != nil {
				s.QueuePosition = nil
				return true
			}
			return false
		}
		if s.QueuePosition != nil && *s.QueuePosition == pos {
			return false
		}
		s.SetQueuePosition(pos)
		return true
	})
	for _, s := range changed {
		m.emitLocked(notifications.SessionUpdated(s, false))
	}
}

type runResult struct {
	score        float64
	reportPath   string
	mediaDeleted bool
	duration     time.Duration
	err          error
}

func (m *Manager) run(ctx context.Context, token scheduler.Token, snapshot *session.Session, opts Options) {
	defer m.wg.Done()
	id := snapshot.ID
	logger := m.logger.With(
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldStage, "analysis"),
		logging.String(logging.FieldCorrelationID, uuid.NewString()),
		logging.Int(logging.FieldRetryCount, snapshot.RetryCount),
	)

	var result runResult
	defer func() {
		if r := recover(); r != nil {
			result = runResult{err: services.Wrap(services.ErrProcess, "analysis", "run", fmt.Sprintf("panic: %v", r), nil)}
		}
		m.complete(context.WithoutCancel(ctx), logger, token, id, result)
	}()

	ctx = services.WithSessionID(ctx, id)
	ctx = services.WithStage(ctx, "analysis")
	runCtx, cancel := context.WithTimeout(ctx, m.settings.Timeout)
	defer cancel()

	in := Input{
		SessionID:      id,
		MediaPath:      snapshot.MediaPath,
		TranscriptPath: snapshot.TranscriptPath,
		ReportPath:     m.settings.ReportPath(id),
		Params:         opts.Params,
	}
	logger.Info("analysis started", logging.String("media", filepath.Base(in.MediaPath)))
	outcome, err := m.analyzer.Submit(runCtx, in)
	result.duration = outcome.Duration
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		err = services.Wrap(services.ErrTimeout, "analysis", "run", "analyzer exceeded "+m.settings.Timeout.String(), err)
	}
	if err != nil {
		result.err = err
		return
	}

	reportPath := outcome.ReportPath
	if reportPath == "" {
		reportPath = in.ReportPath
	}
	score, err := ExtractScore(reportPath)
	if err != nil {
		result.err = err
		return
	}
	result.score = score
	result.reportPath = reportPath

	if m.settings.DeleteMediaOnSuccess && token.Valid() {
		if err := fileutil.RemoveUnder(m.settings.MediaRoot, in.MediaPath); err != nil {
			logging.WarnWithContext(logger, "media cleanup failed", "media_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "media file kept on disk"),
				logging.String(logging.FieldErrorHint, "media outside the sessions directory is never deleted"),
			)
		} else {
			result.mediaDeleted = true
		}
	}
}

func (m *Manager) complete(ctx context.Context, logger *slog.Logger, token scheduler.Token, id string, result runResult) {
	m.mu.Lock()
	defer m.unlock(ctx)
	var opts Options
	if run, ok := m.active[id]; ok && run.gen == token.Value() {
		run.cancel()
		opts = run.opts
		delete(m.active, id)
	}
	m.sem.Release()
	defer m.dispatchLocked(ctx)

	if !token.Valid() {
		// Terminated: leave no session claiming analyzing without a task.
		updated, err := m.sessions.Mutate(ctx, id, func(s *session.Session) error {
			if s.AnalysisStatus != session.AnalysisAnalyzing || m.isActiveLocked(id) {
				return store.ErrNoChange
			}
			s.AnalysisStatus = session.AnalysisPending
			s.QueuePosition = nil
			return nil
		})
		if err == nil {
			m.emitLocked(notifications.SessionUpdated(updated, false))
		}
		logger.Debug("analysis result discarded after termination")
		return
	}

	if result.err == nil {
		updated, err := m.sessions.Mutate(ctx, id, func(s *session.Session) error {
			s.AnalysisStatus = session.AnalysisCompleted
			s.QueuePosition = nil
			s.SetScore(result.score)
			s.ReportPath = result.reportPath
			if result.mediaDeleted {
				s.MediaPath = ""
			}
			s.ClearFailure()
			return nil
		})
		if err != nil {
			return
		}
		logger.Info("analysis completed",
			logging.Float64("score", result.score),
			logging.Duration("analysis_duration", result.duration),
			logging.Bool("media_deleted", result.mediaDeleted),
		)
		m.emitLocked(notifications.SessionUpdated(updated, true))
		return
	}

	reason := services.Reason(result.err)
	var (
		exhausted bool
		retries   int
	)
	updated, err := m.sessions.Mutate(ctx, id, func(s *session.Session) error {
		if reason.Retryable() && s.RetryCount < m.settings.MaxRetries {
			s.RetryCount++
			if reason == session.ReasonOutputParseError {
				s.ParseRetryCount++
			}
		}
		s.SetAnalysisFailed(reason, result.err.Error())
		retries = s.RetryCount
		exhausted = !reason.Retryable() || m.exhausted(s)
		return nil
	})
	if err != nil {
		return
	}
	m.emitLocked(notifications.SessionUpdated(updated, exhausted))

	if exhausted {
		logging.ErrorWithContext(logger, "analysis failed", "analysis_failed",
			logging.String(logging.FieldFailureReason, string(reason)),
			logging.Int(logging.FieldRetryCount, retries),
			logging.Error(result.err),
			logging.String(logging.FieldImpact, "session has no score"),
			logging.String(logging.FieldErrorHint, "inspect analyzer.log in the session directory, then run: sessionqa retry analysis "+id),
		)
		return
	}

	delay := scheduler.Backoff(retries, m.settings.BackoffBase, m.settings.BackoffMax)
	logging.WarnWithContext(logger, "analysis failed; retry scheduled", "analysis_retry_scheduled",
		logging.String(logging.FieldFailureReason, string(reason)),
		logging.Int(logging.FieldRetryCount, retries),
		logging.Duration("retry_in", delay),
		logging.Error(result.err),
		logging.String(logging.FieldImpact, "score delayed"),
		logging.String(logging.FieldErrorHint, "automatic; no action needed unless retries run out"),
	)
	m.scheduleRetryLocked(id, delay, opts)
}

// scheduleRetryLocked re-enqueues id after delay with the options of the run
// that failed.
func (m *Manager) scheduleRetryLocked(id string, delay time.Duration, opts Options) {
	m.stopTimerLocked(id)
	entry := &retryTimer{gen: m.gen.Value(), opts: opts}
	entry.timer = time.AfterFunc(delay, func() {
		ctx := context.Background()
		m.mu.Lock()
		defer m.unlock(ctx)
		if current, ok := m.timers[id]; !ok || current != entry {
			return
		}
		delete(m.timers, id)
		if entry.gen != m.gen.Value() {
			return
		}
		if _, err := m.enqueueLocked(ctx, id, entry.opts, PriorityRetry, false); err != nil {
			m.logger.Debug("retry enqueue failed", logging.String(logging.FieldSessionID, id), logging.Error(err))
		}
	})
	m.timers[id] = entry
}

func (m *Manager) stopTimerLocked(id string) {
	if entry, ok := m.timers[id]; ok {
		entry.timer.Stop()
		delete(m.timers, id)
	}
}

// Status reports queue, active and waiting-retry counts.
func (m *Manager) Status() scheduler.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	activeIDs := make([]string, 0, len(m.active))
	for id := range m.active {
		activeIDs = append(activeIDs, id)
	}
	sort.Strings(activeIDs)
	return scheduler.Stats{
		Limit:      m.sem.Limit(),
		Active:     m.sem.Active(),
		Queued:     m.queue.Len(),
		Waiting:    len(m.timers),
		Generation: m.gen.Value(),
		ActiveIDs:  activeIDs,
		QueuedIDs:  m.queue.IDs(),
	}
}

// Clear drops every queued session and pending retry. Running invocations
// are left alone and report their results as usual. Dropped sessions return
// to pending.
func (m *Manager) Clear(ctx context.Context) []string {
	m.mu.Lock()
	defer m.unlock(ctx)
	dropped := m.queue.Clear()
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	if len(dropped) > 0 {
		drop := make(map[string]struct{}, len(dropped))
		for _, id := range dropped {
			drop[id] = struct{}{}
		}
		changed, _ := m.sessions.MutateAll(ctx, func(s *session.Session) bool {
			if _, ok := drop[s.ID]; !ok || s.AnalysisStatus != session.AnalysisQueued {
				return false
			}
			s.AnalysisStatus = session.AnalysisPending
			s.QueuePosition = nil
			return true
		})
		for _, s := range changed {
			m.emitLocked(notifications.SessionUpdated(s, false))
		}
	}
	m.logger.Info("analysis queue cleared", logging.Int("dropped", len(dropped)))
	return dropped
}

// TerminateActive advances the generation and cancels every running
// invocation. Their results are discarded. It returns how many were running.
func (m *Manager) TerminateActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen.Advance()
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	for _, run := range m.active {
		run.cancel()
	}
	count := len(m.active)
	if count > 0 {
		m.logger.Info("active analyses terminated", logging.Int("count", count))
	}
	return count
}

// Wait blocks until every started invocation has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (m *Manager) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneOptions(opts Options) Options {
	if len(opts.Params) == 0 {
		return Options{}
	}
	params := make(map[string]string, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}
	return Options{Params: params}
}
