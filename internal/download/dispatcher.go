package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"sessionqa/internal/config"
	"sessionqa/internal/logging"
	"sessionqa/internal/notifications"
	"sessionqa/internal/scheduler"
	"sessionqa/internal/services"
	"sessionqa/internal/session"
	"sessionqa/internal/store"
)

// Options tune a single enqueue.
type Options struct {
	// SkipAnalysis stops the session at downloadStatus=completed.
	SkipAnalysis bool
	// Params are forwarded untouched to the analyzer.
	Params map[string]string
}

// Handoff receives sessions whose media is on disk.
type Handoff interface {
	HandOff(ctx context.Context, id string, params map[string]string)
}

// HandoffFunc adapts a function to Handoff.
type HandoffFunc func(ctx context.Context, id string, params map[string]string)

// HandOff implements Handoff.
func (f HandoffFunc) HandOff(ctx context.Context, id string, params map[string]string) {
	f(ctx, id, params)
}

// Settings configure a Dispatcher.
type Settings struct {
	MaxConcurrent int
	SessionDir    func(id string) string
}

// Dispatcher fetches session media with bounded concurrency.
type Dispatcher struct {
	settings Settings
	sessions *store.Collection
	sources  []Source
	handoff  Handoff
	outbox   *notifications.Outbox
	logger   *slog.Logger

	mu      sync.Mutex
	flushTo uint64
	queue   *scheduler.Queue[Options]
	// active maps each running fetch to its generation. Fetches from a
	// cancelled generation stay listed until they return.
	active map[string]uint64
	// deferred holds re-enqueued sessions whose cancelled fetch is still
	// unwinding; they join the queue once it returns.
	deferred map[string]Options
	sem      *scheduler.Semaphore
	gen      scheduler.Generation
	runCtx   context.Context
	stopRuns context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a dispatcher. Sources are tried in order; handoff and publisher may be nil.
func New(settings Settings, sessions *store.Collection, sources []Source, handoff Handoff, publisher notifications.Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings.SessionDir == nil {
		settings.SessionDir = func(id string) string { return id }
	}
	d := &Dispatcher{
		settings: settings,
		sessions: sessions,
		sources:  sources,
		handoff:  handoff,
		outbox:   notifications.NewOutbox(publisher),
		logger:   logging.NewComponentLogger(logger, "download"),
		queue:    scheduler.NewQueue[Options](),
		active:   make(map[string]uint64),
		deferred: make(map[string]Options),
		sem:      scheduler.NewSemaphore(settings.MaxConcurrent),
	}
	d.runCtx, d.stopRuns = context.WithCancel(context.Background())
	return d
}

// DefaultSources returns the configured resolution chain: shared-folder
// helper, then HTTP(S), then local files.
func DefaultSources(cfg *config.Config) []Source {
	return []Source{
		NewFolderSource(cfg.Download.FolderHelper, cfg.Download.FolderPrefixes, cfg.FolderTimeout()),
		NewHTTPSource(cfg.Download.UserAgent, cfg.DownloadTimeout()),
		NewLocalSource(cfg.Download.CopyLocal),
	}
}

// Enqueue queues one session for download. Sessions already queued or being
// fetched in the current generation are left alone.
func (d *Dispatcher) Enqueue(ctx context.Context, id string, opts Options) error {
	id = strings.TrimSpace(id)
	d.mu.Lock()
	defer d.unlock(ctx)
	_, err := d.enqueueLocked(ctx, id, opts)
	return err
}

// EnqueueBatch queues several sessions and reports how many were accepted.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, ids []string, opts Options) (int, error) {
	d.mu.Lock()
	defer d.unlock(ctx)
	accepted := 0
	var errs []error
	for _, id := range ids {
		ok, err := d.enqueueLocked(ctx, strings.TrimSpace(id), opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			accepted++
		}
	}
	return accepted, errors.Join(errs...)
}

func (d *Dispatcher) enqueueLocked(ctx context.Context, id string, opts Options) (bool, error) {
	if id == "" {
		return false, services.Wrap(services.ErrValidation, "download", "enqueue", "session id is required", nil)
	}
	if _, waiting := d.deferred[id]; waiting || d.queue.Contains(id) || d.isActiveLocked(id) {
		d.logger.Debug("download already pending; ignoring enqueue",
			logging.String(logging.FieldSessionID, id),
			logging.String(logging.FieldFailureReason, string(session.ReasonDuplicateEnqueue)),
		)
		return false, nil
	}
	updated, err := d.sessions.Mutate(ctx, id, func(s *session.Session) error {
		s.DownloadStatus = session.DownloadQueued
		s.Progress = 0
		s.ClearFailure()
		return nil
	})
	if err != nil {
		return false, err
	}
	d.flushTo = d.outbox.Queue(notifications.SessionUpdated(updated, false))
	if _, unwinding := d.active[id]; unwinding {
		// Two fetches must never write the same session directory at once.
		d.deferred[id] = cloneOptions(opts)
		d.logger.Debug("download waits for cancelled fetch to return", logging.String(logging.FieldSessionID, id))
		return true, nil
	}
	d.queue.Push(id, 0, cloneOptions(opts))
	d.logger.Debug("download queued",
		logging.String(logging.FieldSessionID, id),
		logging.Int(logging.FieldQueuePosition, d.queue.Len()),
	)
	d.dispatchLocked()
	return true, nil
}

// unlock releases mu, then publishes the events queued while it was held.
func (d *Dispatcher) unlock(ctx context.Context) {
	seq := d.flushTo
	d.mu.Unlock()
	d.outbox.Flush(ctx, seq)
}

// publish delivers event behind anything already queued. mu must not be held.
func (d *Dispatcher) publish(ctx context.Context, event notifications.Event) {
	d.outbox.Flush(ctx, d.outbox.Queue(event))
}

func (d *Dispatcher) isActiveLocked(id string) bool {
	gen, ok := d.active[id]
	return ok && gen == d.gen.Value()
}

// CancelAll advances the generation, drops every pending download and
// cancels in-flight fetches. It returns the IDs that were still queued.
func (d *Dispatcher) CancelAll() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen.Advance()
	dropped := d.queue.Clear()
	for id := range d.deferred {
		dropped = append(dropped, id)
		delete(d.deferred, id)
	}
	d.stopRuns()
	d.runCtx, d.stopRuns = context.WithCancel(context.Background())
	d.logger.Info("downloads cancelled",
		logging.Int("dropped", len(dropped)),
		logging.Int("in_flight", d.sem.Active()),
		logging.Uint64("generation", d.gen.Value()),
	)
	return dropped
}

// Status reports queue and active counts.
func (d *Dispatcher) Status() scheduler.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	current := d.gen.Value()
	activeIDs := make([]string, 0, len(d.active))
	for id, gen := range d.active {
		if gen == current {
			activeIDs = append(activeIDs, id)
		}
	}
	sort.Strings(activeIDs)
	queuedIDs := d.queue.IDs()
	for id := range d.deferred {
		queuedIDs = append(queuedIDs, id)
	}
	return scheduler.Stats{
		Limit:      d.sem.Limit(),
		Active:     d.sem.Active(),
		Queued:     len(queuedIDs),
		Generation: current,
		ActiveIDs:  activeIDs,
		QueuedIDs:  queuedIDs,
	}
}

// Wait blocks until every started fetch has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown cancels all work and waits for fetches to unwind or ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.CancelAll()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatchLocked() {
	for d.queue.Len() > 0 {
		if !d.sem.TryAcquire() {
			return
		}
		id, opts, _ := d.queue.Pop()
		token := d.gen.Current()
		d.active[id] = token.Value()
		d.wg.Add(1)
		go d.run(d.runCtx, token, id, opts)
	}
}

func (d *Dispatcher) finish(id string, token scheduler.Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen, ok := d.active[id]; ok && gen == token.Value() {
		delete(d.active, id)
	}
	d.sem.Release()
	if opts, ok := d.deferred[id]; ok {
		delete(d.deferred, id)
		d.queue.Push(id, 0, opts)
	}
	d.dispatchLocked()
}

func (d *Dispatcher) run(ctx context.Context, token scheduler.Token, id string, opts Options) {
	defer d.wg.Done()
	defer d.finish(id, token)

	ctx = services.WithSessionID(ctx, id)
	ctx = services.WithStage(ctx, "download")
	logger := d.logger.With(
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldCorrelationID, uuid.NewString()),
	)

	defer func() {
		if r := recover(); r != nil {
			d.fail(ctx, logger, token, id, services.Wrap(services.ErrNetwork, "download", "fetch", fmt.Sprintf("panic: %v", r), nil))
		}
	}()

	if err := d.fetch(ctx, logger, token, id, opts); err != nil {
		d.fail(ctx, logger, token, id, err)
	}
}

func (d *Dispatcher) fetch(ctx context.Context, logger *slog.Logger, token scheduler.Token, id string, opts Options) error {
	current, err := d.mutate(ctx, token, id, func(s *session.Session) {
		s.DownloadStatus = session.DownloadDownloading
		s.Progress = 0
	})
	if err != nil {
		return err
	}
	d.publish(ctx, notifications.SessionUpdated(current, false))

	reference := strings.TrimSpace(current.SourceURL)
	if reference == "" {
		return services.Wrap(services.ErrNoMedia, "download", "resolve", "session has no source reference", nil)
	}
	src := selectSource(d.sources, reference)
	if src == nil {
		return services.Wrap(services.ErrNoMedia, "download", "resolve", "no source handles reference "+reference, nil)
	}
	logger.Info("download started", logging.String("source", src.Name()))

	destDir := d.settings.SessionDir(id)
	sampler := logging.NewProgressSampler(10, 0)
	lastPercent := -1
	req := Request{
		SessionID: id,
		Reference: reference,
		Kind:      KindMedia,
		DestDir:   destDir,
		Checkpoint: func() error {
			if !token.Valid() {
				return errStale
			}
			return nil
		},
		Progress: func(done, total int64) error {
			if !token.Valid() {
				return errStale
			}
			if sampler.Observe(done, total) {
				attrs := []logging.Attr{logging.String("downloaded", humanize.Bytes(uint64(max(done, 0))))}
				if total > 0 {
					attrs = append(attrs, logging.Int64(logging.FieldProgressPercent, min(done*100/total, 100)))
				}
				logger.Info("download progress", logging.Args(attrs...)...)
			}
			if total <= 0 {
				return nil
			}
			percent := int(done * 100 / total)
			if percent >= 100 {
				percent = 99
			}
			if percent == lastPercent {
				return nil
			}
			lastPercent = percent
			updated, err := d.mutate(ctx, token, id, func(s *session.Session) { s.Progress = percent })
			if err != nil {
				return err
			}
			d.publish(ctx, notifications.SessionUpdated(updated, false))
			return nil
		},
	}

	result, err := src.Fetch(ctx, req)
	if err != nil {
		return err
	}

	transcriptRef := strings.TrimSpace(current.TranscriptURL)
	if result.TranscriptPath == "" && transcriptRef != "" {
		tReq := req
		tReq.Reference = transcriptRef
		tReq.Kind = KindTranscript
		tReq.Progress = func(int64, int64) error { return req.checkpoint() }
		if tSrc := selectSource(d.sources, transcriptRef); tSrc != nil {
			tResult, tErr := tSrc.Fetch(ctx, tReq)
			switch {
			case errors.Is(tErr, errStale):
				return tErr
			case tErr != nil:
				logging.WarnWithContext(logger, "transcript download failed", "transcript_download_failed",
					logging.Error(tErr),
					logging.String(logging.FieldImpact, "analysis runs without a transcript"),
					logging.String(logging.FieldErrorHint, "check the session transcript reference"),
				)
			default:
				result.TranscriptPath = tResult.TranscriptPath
			}
		}
	}

	completed, err := d.mutate(ctx, token, id, func(s *session.Session) {
		s.DownloadStatus = session.DownloadCompleted
		s.Progress = 100
		s.MediaPath = result.MediaPath
		if result.TranscriptPath != "" {
			s.TranscriptPath = result.TranscriptPath
		}
		s.ClearFailure()
	})
	if err != nil {
		return err
	}
	d.publish(ctx, notifications.SessionUpdated(completed, opts.SkipAnalysis))
	logger.Info("download completed",
		logging.String("source", src.Name()),
		logging.Int64("media_bytes", result.Bytes),
		logging.Bool("transcript", result.TranscriptPath != ""),
	)

	if opts.SkipAnalysis || d.handoff == nil {
		return nil
	}
	if !token.Valid() {
		return errStale
	}
	d.handoff.HandOff(ctx, id, opts.Params)
	return nil
}

// mutate applies fn only while token is still current.
func (d *Dispatcher) mutate(ctx context.Context, token scheduler.Token, id string, fn func(*session.Session)) (*session.Session, error) {
	return d.sessions.Mutate(ctx, id, func(s *session.Session) error {
		if !token.Valid() {
			return errStale
		}
		fn(s)
		return nil
	})
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, token scheduler.Token, id string, err error) {
	if errors.Is(err, errStale) || !token.Valid() {
		logger.Debug("download abandoned after cancellation", logging.Uint64("generation", token.Value()))
		return
	}
	if ctx.Err() != nil {
		logger.Debug("download interrupted by shutdown", logging.Error(err))
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		logger.Debug("session removed during download", logging.Error(err))
		return
	}
	reason := services.Reason(err)
	if reason == session.ReasonProcessFailure {
		reason = session.ReasonNetworkError
	}
	failed, mutErr := d.mutate(ctx, token, id, func(s *session.Session) {
		s.SetDownloadFailed(reason, err.Error())
	})
	if mutErr != nil {
		return
	}
	logging.WarnWithContext(logger, "download failed", "download_failed",
		logging.String(logging.FieldFailureReason, string(reason)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "session will not be analyzed until the download is retried"),
		logging.String(logging.FieldErrorHint, "check the source reference, then run: sessionqa retry download "+id),
	)
	d.publish(ctx, notifications.SessionUpdated(failed, true))
}

func cloneOptions(opts Options) Options {
	if len(opts.Params) == 0 {
		return Options{SkipAnalysis: opts.SkipAnalysis}
	}
	params := make(map[string]string, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}
	return Options{SkipAnalysis: opts.SkipAnalysis, Params: params}
}
