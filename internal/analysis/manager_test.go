package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sessionqa/internal/notifications"
	"sessionqa/internal/services"
	"sessionqa/internal/session"
	"sessionqa/internal/store"
	"sessionqa/internal/testsupport"
)

type fixture struct {
	collection *store.Collection
	recorder   *testsupport.Recorder
	root       string
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	collection := store.NewCollection(store.NewMemory(), nil)
	if err := collection.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, id := range ids {
		media := filepath.Join(root, id, "media.mp4")
		if err := os.MkdirAll(filepath.Dir(media), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(media, []byte("video"), 0o644); err != nil {
			t.Fatal(err)
		}
		s := session.New(id, media)
		s.DownloadStatus = session.DownloadCompleted
		s.Progress = 100
		s.MediaPath = media
		if err := collection.Add(ctx, s); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	return &fixture{collection: collection, recorder: &testsupport.Recorder{}, root: root}
}

func (f *fixture) settings(limit int) Settings {
	return Settings{
		MaxConcurrent:        limit,
		Timeout:              5 * time.Second,
		MaxRetries:           3,
		ParseErrorMaxRetries: 3,
		BackoffBase:          time.Millisecond,
		BackoffMax:           5 * time.Millisecond,
		MediaRoot:            f.root,
		ReportPath:           func(id string) string { return filepath.Join(f.root, id, "report.txt") },
	}
}

func (f *fixture) manager(settings Settings, analyzer Analyzer) *Manager {
	return NewManager(settings, f.collection, analyzer, f.recorder, nil)
}

func (f *fixture) get(t *testing.T, id string) *session.Session {
	t.Helper()
	s, ok := f.collection.Get(id)
	if !ok {
		t.Fatalf("session %s missing", id)
	}
	return s
}

func writeScore(in Input, score float64) (Outcome, error) {
	if err := os.WriteFile(in.ReportPath, []byte("report"), 0o644); err != nil {
		return Outcome{}, err
	}
	body := fmt.Sprintf(`{"scoring": {"final_weighted_score": %v}}`, score)
	if err := os.WriteFile(StructuredPath(in.ReportPath), []byte(body), 0o644); err != nil {
		return Outcome{}, err
	}
	return Outcome{ReportPath: in.ReportPath}, nil
}

func scoring(score float64) AnalyzerFunc {
	return func(_ context.Context, in Input) (Outcome, error) { return writeScore(in, score) }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	waitFor(t, "idle manager", func() bool { return m.Status().Idle() })
	m.Wait()
}

// gate blocks every invocation until released and records peak concurrency.
type gate struct {
	release chan struct{}
	current atomic.Int32
	peak    atomic.Int32
	started atomic.Int32
	mu      sync.Mutex
	order   []string
}

func newGate() *gate { return &gate{release: make(chan struct{})} }

func (g *gate) Submit(ctx context.Context, in Input) (Outcome, error) {
	g.mu.Lock()
	g.order = append(g.order, in.SessionID)
	g.mu.Unlock()
	g.started.Add(1)
	n := g.current.Add(1)
	defer g.current.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	return writeScore(in, 80)
}

func (g *gate) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func TestManagerSuccessPersistsScore(t *testing.T) {
	f := newFixture(t, "s-1")
	m := f.manager(f.settings(2), scoring(87.5))
	if err := m.Enqueue(context.Background(), "s-1", Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitIdle(t, m)

	got := f.get(t, "s-1")
	if got.AnalysisStatus != session.AnalysisCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.AnalysisStatus, got.FailureDetail)
	}
	if got.AIScore == nil || *got.AIScore != 87.5 {
		t.Fatalf("unexpected score %v", got.AIScore)
	}
	if got.ReportPath != filepath.Join(f.root, "s-1", "report.txt") {
		t.Fatalf("unexpected report path %q", got.ReportPath)
	}
	if got.QueuePosition != nil || got.RetryCount != 0 {
		t.Fatalf("unexpected bookkeeping %+v", got)
	}
	events := f.recorder.SessionEvents("s-1")
	if len(events) == 0 || !events[len(events)-1].Terminal {
		t.Fatal("completion should publish a terminal event")
	}
}

func TestManagerBoundsConcurrencyAndRanksQueue(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d")
	g := newGate()
	m := f.manager(f.settings(2), g)
	ctx := context.Background()
	accepted, err := m.EnqueueMultiple(ctx, []string{"a", "b", "c", "d"}, Options{})
	if err != nil || accepted != 4 {
		t.Fatalf("enqueue multiple: %d %v", accepted, err)
	}
	waitFor(t, "two running", func() bool { return g.started.Load() == 2 })

	status := m.Status()
	if status.Active != 2 || status.Queued != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
	for id, want := range map[string]int{"c": 1, "d": 2} {
		got := f.get(t, id)
		if got.AnalysisStatus != session.AnalysisQueued || got.QueuePosition == nil || *got.QueuePosition != want {
			t.Fatalf("%s: expected queued at %d, got %s %v", id, want, got.AnalysisStatus, got.QueuePosition)
		}
	}
	for _, id := range []string{"a", "b"} {
		if got := f.get(t, id); got.AnalysisStatus != session.AnalysisAnalyzing || got.QueuePosition != nil {
			t.Fatalf("%s should be analyzing without a position", id)
		}
	}

	close(g.release)
	waitIdle(t, m)
	if peak := g.peak.Load(); peak > 2 {
		t.Fatalf("concurrency exceeded limit: %d", peak)
	}
	order := g.seen()
	if len(order) != 4 || order[2] != "c" || order[3] != "d" {
		t.Fatalf("expected FIFO dispatch, got %v", order)
	}
}

func TestManagerDuplicateEnqueueIsNoop(t *testing.T) {
	f := newFixture(t, "a", "b")
	g := newGate()
	m := f.manager(f.settings(1), g)
	ctx := context.Background()
	_ = m.Enqueue(ctx, "a", Options{})
	_ = m.Enqueue(ctx, "b", Options{})
	waitFor(t, "a running", func() bool { return g.started.Load() == 1 })

	if err := m.Enqueue(ctx, "a", Options{}); err != nil {
		t.Fatalf("duplicate of active should be nil, got %v", err)
	}
	if err := m.Enqueue(ctx, "b", Options{}); err != nil {
		t.Fatalf("duplicate of queued should be nil, got %v", err)
	}
	if status := m.Status(); status.Queued != 1 || status.Active != 1 {
		t.Fatalf("duplicates changed the queue: %+v", status)
	}
	close(g.release)
	waitIdle(t, m)
	if n := g.started.Load(); n != 2 {
		t.Fatalf("expected two invocations, got %d", n)
	}
}

func TestManagerRetriesUntilExhausted(t *testing.T) {
	f := newFixture(t, "s")
	var attempts atomic.Int32
	crash := AnalyzerFunc(func(context.Context, Input) (Outcome, error) {
		attempts.Add(1)
		return Outcome{}, services.Wrap(services.ErrProcess, "analysis", "run", "exit status 1", nil)
	})
	settings := f.settings(1)
	settings.MaxRetries = 2
	m := f.manager(settings, crash)
	if err := m.Enqueue(context.Background(), "s", Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "three attempts", func() bool { return attempts.Load() == 3 })
	waitIdle(t, m)

	got := f.get(t, "s")
	if got.AnalysisStatus != session.AnalysisFailed || got.FailureReason != session.ReasonProcessFailure {
		t.Fatalf("expected terminal processFailure, got %s/%s", got.AnalysisStatus, got.FailureReason)
	}
	if got.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", got.RetryCount)
	}

	if err := m.Enqueue(context.Background(), "s", Options{}); err != nil {
		t.Fatalf("enqueue of exhausted session: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if attempts.Load() != 3 {
		t.Fatal("exhausted session must not run again until reset")
	}
}

func TestManagerRetryRunsBehindFreshWork(t *testing.T) {
	f := newFixture(t, "flaky", "hold", "fresh")
	var (
		mu    sync.Mutex
		order []string
		first = true
	)
	release := make(chan struct{})
	analyzer := AnalyzerFunc(func(_ context.Context, in Input) (Outcome, error) {
		mu.Lock()
		order = append(order, in.SessionID)
		fail := in.SessionID == "flaky" && first
		if fail {
			first = false
		}
		mu.Unlock()
		if fail {
			return Outcome{}, services.Wrap(services.ErrProcess, "analysis", "run", "crash", nil)
		}
		if in.SessionID == "hold" {
			<-release
		}
		return writeScore(in, 50)
	})
	settings := f.settings(1)
	settings.BackoffBase = 25 * time.Millisecond
	settings.BackoffMax = 100 * time.Millisecond
	m := f.manager(settings, analyzer)
	ctx := context.Background()
	_ = m.Enqueue(ctx, "flaky", Options{})
	waitFor(t, "retry scheduled", func() bool { return m.Status().Waiting == 1 })
	_ = m.Enqueue(ctx, "hold", Options{})
	waitFor(t, "retry queued", func() bool { return m.Status().Queued == 1 })
	_ = m.Enqueue(ctx, "fresh", Options{})

	status := m.Status()
	if len(status.QueuedIDs) != 2 || status.QueuedIDs[0] != "fresh" || status.QueuedIDs[1] != "flaky" {
		t.Fatalf("retry should queue behind fresh work, got %v", status.QueuedIDs)
	}
	if got := f.get(t, "flaky"); got.QueuePosition == nil || *got.QueuePosition != 2 {
		t.Fatalf("retry should rank second, got %v", got.QueuePosition)
	}
	close(release)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"flaky", "hold", "fresh", "flaky"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	if got := f.get(t, "flaky"); got.AnalysisStatus != session.AnalysisCompleted || got.RetryCount != 1 {
		t.Fatalf("retry should complete, got %s retry=%d", got.AnalysisStatus, got.RetryCount)
	}
}

func TestManagerParseRetriesUseOwnBudget(t *testing.T) {
	f := newFixture(t, "s")
	var attempts atomic.Int32
	sentinel := AnalyzerFunc(func(_ context.Context, in Input) (Outcome, error) {
		attempts.Add(1)
		return writeScore(in, SentinelScore)
	})
	settings := f.settings(1)
	settings.MaxRetries = 5
	settings.ParseErrorMaxRetries = 1
	m := f.manager(settings, sentinel)
	_ = m.Enqueue(context.Background(), "s", Options{})
	waitFor(t, "two attempts", func() bool { return attempts.Load() == 2 })
	waitIdle(t, m)

	got := f.get(t, "s")
	if got.FailureReason != session.ReasonOutputParseError || got.AnalysisStatus != session.AnalysisFailed {
		t.Fatalf("expected outputParseError, got %s/%s", got.AnalysisStatus, got.FailureReason)
	}
	if got.ParseRetryCount != 1 || got.RetryCount != 1 {
		t.Fatalf("unexpected counters retry=%d parse=%d", got.RetryCount, got.ParseRetryCount)
	}
	if got.AIScore != nil {
		t.Fatal("sentinel must not be stored as a score")
	}
}

func TestManagerTimeout(t *testing.T) {
	f := newFixture(t, "s")
	hang := AnalyzerFunc(func(ctx context.Context, _ Input) (Outcome, error) {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	})
	settings := f.settings(1)
	settings.Timeout = 20 * time.Millisecond
	settings.MaxRetries = 0
	m := f.manager(settings, hang)
	_ = m.Enqueue(context.Background(), "s", Options{})
	waitIdle(t, m)
	got := f.get(t, "s")
	if got.FailureReason != session.ReasonTimeout || got.AnalysisStatus != session.AnalysisFailed {
		t.Fatalf("expected timeout failure, got %s/%s", got.AnalysisStatus, got.FailureReason)
	}
}

func TestManagerPanicDoesNotStopLoop(t *testing.T) {
	f := newFixture(t, "boom", "next")
	analyzer := AnalyzerFunc(func(_ context.Context, in Input) (Outcome, error) {
		if in.SessionID == "boom" {
			panic("analyzer exploded")
		}
		return writeScore(in, 70)
	})
	settings := f.settings(1)
	settings.MaxRetries = 0
	m := f.manager(settings, analyzer)
	ctx := context.Background()
	_ = m.Enqueue(ctx, "boom", Options{})
	_ = m.Enqueue(ctx, "next", Options{})
	waitIdle(t, m)

	if got := f.get(t, "boom"); got.FailureReason != session.ReasonProcessFailure {
		t.Fatalf("panic should record processFailure, got %s", got.FailureReason)
	}
	if got := f.get(t, "next"); got.AnalysisStatus != session.AnalysisCompleted {
		t.Fatalf("next session should still run, got %s", got.AnalysisStatus)
	}
	if status := m.Status(); status.Active != 0 {
		t.Fatalf("slot leaked after panic: %+v", status)
	}
}

func TestManagerRejectsMissingMedia(t *testing.T) {
	f := newFixture(t, "nomedia", "nodir", "nofile")
	ctx := context.Background()
	_, _ = f.collection.Mutate(ctx, "nomedia", func(s *session.Session) error { s.MediaPath = ""; return nil })
	_, _ = f.collection.Mutate(ctx, "nodir", func(s *session.Session) error {
		s.MediaPath = filepath.Join(f.root, "gone", "media.mp4")
		return nil
	})
	_, _ = f.collection.Mutate(ctx, "nofile", func(s *session.Session) error {
		s.MediaPath = filepath.Join(f.root, "nofile", "missing.mp4")
		return nil
	})
	m := f.manager(f.settings(1), scoring(1))

	cases := []struct {
		id     string
		reason session.FailureReason
		marker error
	}{
		{"nomedia", session.ReasonNoMediaFound, services.ErrNoMedia},
		{"nodir", session.ReasonFolderNotFound, services.ErrFolderNotFound},
		{"nofile", session.ReasonNoMediaFound, services.ErrNoMedia},
	}
	for _, tc := range cases {
		err := m.Enqueue(ctx, tc.id, Options{})
		if !errors.Is(err, tc.marker) {
			t.Fatalf("%s: expected %v, got %v", tc.id, tc.marker, err)
		}
		got := f.get(t, tc.id)
		if got.AnalysisStatus != session.AnalysisFailed || got.FailureReason != tc.reason {
			t.Fatalf("%s: expected %s, got %s/%s", tc.id, tc.reason, got.AnalysisStatus, got.FailureReason)
		}
	}
	if status := m.Status(); !status.Idle() {
		t.Fatalf("rejected sessions must not queue: %+v", status)
	}
}

func TestManagerClearKeepsRunningInvocation(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	g := newGate()
	m := f.manager(f.settings(1), g)
	ctx := context.Background()
	_, _ = m.EnqueueMultiple(ctx, []string{"a", "b", "c"}, Options{})
	waitFor(t, "a running", func() bool { return g.started.Load() == 1 })

	dropped := m.Clear(ctx)
	if len(dropped) != 2 {
		t.Fatalf("expected two dropped, got %v", dropped)
	}
	for _, id := range []string{"b", "c"} {
		if got := f.get(t, id); got.AnalysisStatus != session.AnalysisPending || got.QueuePosition != nil {
			t.Fatalf("%s should be pending after clear, got %s", id, got.AnalysisStatus)
		}
	}
	close(g.release)
	waitIdle(t, m)
	if got := f.get(t, "a"); got.AnalysisStatus != session.AnalysisCompleted {
		t.Fatalf("running invocation should finish, got %s", got.AnalysisStatus)
	}
}

func TestManagerClearCancelsRetryTimer(t *testing.T) {
	f := newFixture(t, "s")
	var attempts atomic.Int32
	crash := AnalyzerFunc(func(context.Context, Input) (Outcome, error) {
		attempts.Add(1)
		return Outcome{}, errors.New("crash")
	})
	settings := f.settings(1)
	settings.BackoffBase = time.Hour
	settings.BackoffMax = time.Hour
	m := f.manager(settings, crash)
	_ = m.Enqueue(context.Background(), "s", Options{})
	waitFor(t, "retry waiting", func() bool { return m.Status().Waiting == 1 })

	got := f.get(t, "s")
	if got.AnalysisStatus != session.AnalysisFailed || got.RetryCount != 1 {
		t.Fatalf("backoff should show failed with retry 1, got %s/%d", got.AnalysisStatus, got.RetryCount)
	}
	m.Clear(context.Background())
	if status := m.Status(); !status.Idle() {
		t.Fatalf("clear should drop the timer: %+v", status)
	}
	if attempts.Load() != 1 {
		t.Fatalf("unexpected attempts %d", attempts.Load())
	}
}

func TestManagerTerminateActiveDiscardsResults(t *testing.T) {
	f := newFixture(t, "a", "b")
	g := newGate()
	m := f.manager(f.settings(2), g)
	ctx := context.Background()
	_, _ = m.EnqueueMultiple(ctx, []string{"a", "b"}, Options{})
	waitFor(t, "both running", func() bool { return g.started.Load() == 2 })

	if n := m.TerminateActive(); n != 2 {
		t.Fatalf("expected two terminated, got %d", n)
	}
	m.Wait()
	for _, id := range []string{"a", "b"} {
		got := f.get(t, id)
		if got.AnalysisStatus != session.AnalysisPending || got.AIScore != nil || got.RetryCount != 0 {
			t.Fatalf("%s: terminated run must leave pending with no score, got %+v", id, got)
		}
	}
	if status := m.Status(); status.Active != 0 || status.Generation != 1 {
		t.Fatalf("unexpected status after terminate %+v", status)
	}

	if err := m.Enqueue(ctx, "a", Options{}); err != nil {
		t.Fatalf("re-enqueue after terminate: %v", err)
	}
	close(g.release)
	waitIdle(t, m)
	if got := f.get(t, "a"); got.AnalysisStatus != session.AnalysisCompleted {
		t.Fatalf("new generation run should complete, got %s", got.AnalysisStatus)
	}
}

func TestManagerDeletesMediaOnSuccess(t *testing.T) {
	f := newFixture(t, "s")
	settings := f.settings(1)
	settings.DeleteMediaOnSuccess = true
	media := f.get(t, "s").MediaPath
	m := f.manager(settings, scoring(90))
	_ = m.Enqueue(context.Background(), "s", Options{})
	waitIdle(t, m)

	got := f.get(t, "s")
	if got.AnalysisStatus != session.AnalysisCompleted || got.MediaPath != "" {
		t.Fatalf("expected completed with media cleared, got %s %q", got.AnalysisStatus, got.MediaPath)
	}
	if _, err := os.Stat(media); !os.IsNotExist(err) {
		t.Fatalf("media should be removed, stat err=%v", err)
	}
	if _, err := os.Stat(got.ReportPath); err != nil {
		t.Fatalf("report must be kept: %v", err)
	}
}

func TestManagerForwardsParams(t *testing.T) {
	f := newFixture(t, "s")
	var got map[string]string
	analyzer := AnalyzerFunc(func(_ context.Context, in Input) (Outcome, error) {
		got = in.Params
		return writeScore(in, 10)
	})
	m := f.manager(f.settings(1), analyzer)
	m.HandOff(context.Background(), "s", map[string]string{"rubric": "v2"})
	waitIdle(t, m)
	if got["rubric"] != "v2" {
		t.Fatalf("params not forwarded: %v", got)
	}
}

func TestManagerRetryKeepsParams(t *testing.T) {
	f := newFixture(t, "s")
	var (
		mu    sync.Mutex
		calls []map[string]string
	)
	analyzer := AnalyzerFunc(func(_ context.Context, in Input) (Outcome, error) {
		mu.Lock()
		calls = append(calls, in.Params)
		attempt := len(calls)
		mu.Unlock()
		if attempt == 1 {
			return Outcome{}, services.Wrap(services.ErrProcess, "analysis", "run", "analyzer exited 1", nil)
		}
		return writeScore(in, 55)
	})
	m := f.manager(f.settings(1), analyzer)
	if err := m.Enqueue(context.Background(), "s", Options{Params: map[string]string{"rubric": "v2"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "retry to complete", func() bool {
		return f.get(t, "s").AnalysisStatus == session.AnalysisCompleted
	})
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected two attempts, got %d", len(calls))
	}
	for i, params := range calls {
		if params["rubric"] != "v2" {
			t.Fatalf("attempt %d lost params: %v", i+1, params)
		}
	}
}

// stallingPublisher holds the first event until released, then forwards
// everything to next.
type stallingPublisher struct {
	once    sync.Once
	reached chan struct{}
	release chan struct{}
	next    notifications.Publisher
}

func (p *stallingPublisher) Publish(ctx context.Context, event notifications.Event) {
	p.once.Do(func() {
		close(p.reached)
		<-p.release
	})
	p.next.Publish(ctx, event)
}

func TestManagerStatusAvailableWhilePublishBlocks(t *testing.T) {
	f := newFixture(t, "s")
	hub := notifications.NewHub(nil)
	t.Cleanup(hub.Close)
	stall := &stallingPublisher{reached: make(chan struct{}), release: make(chan struct{}), next: hub}
	g := newGate()
	m := NewManager(f.settings(1), f.collection, g, stall, nil)
	hub.Initial = func() []notifications.Event {
		return []notifications.Event{notifications.QueueSnapshot(notifications.Snapshot{Analysis: m.Status()})}
	}
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	enqueued := make(chan error, 1)
	go func() { enqueued <- m.Enqueue(context.Background(), "s", Options{}) }()
	<-stall.reached

	// A subscriber joining now reads manager status while Enqueue is still
	// delivering its first event.
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first notifications.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("initial snapshot not delivered: %v", err)
	}
	if first.Type != notifications.EventQueueSnapshot || first.Snapshot == nil || first.Snapshot.Analysis.Active != 1 {
		t.Fatalf("unexpected initial event %+v", first)
	}

	close(stall.release)
	if err := <-enqueued; err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	close(g.release)
	waitIdle(t, m)
}
