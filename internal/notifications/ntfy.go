package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cbroglie/mustache"

	"sessionqa/internal/config"
	"sessionqa/internal/logging"
	"sessionqa/internal/session"
)

const (
	userAgent     = "sessionqa/0.1"
	ntfyQueueSize = 64
)

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

// Ntfy pushes terminal session outcomes to an ntfy topic. Sends happen on a
// single background worker; events that arrive while its buffer is full are
// dropped.
type Ntfy struct {
	endpoint          string
	client            *http.Client
	logger            *slog.Logger
	completedTemplate *mustache.Template
	failedTemplate    *mustache.Template

	queue     chan message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNtfy builds the ntfy publisher. It returns nil when no topic is configured.
func NewNtfy(cfg *config.Config, logger *slog.Logger) (*Ntfy, error) {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return nil, nil
	}
	completed, err := mustache.ParseString(cfg.Notifications.CompletedTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse completed_template: %w", err)
	}
	failed, err := mustache.ParseString(cfg.Notifications.FailedTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse failed_template: %w", err)
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	n := &Ntfy{
		endpoint:          topic,
		client:            &http.Client{Timeout: timeout},
		logger:            logging.NewComponentLogger(logger, "ntfy"),
		completedTemplate: completed,
		failedTemplate:    failed,
		queue:             make(chan message, ntfyQueueSize),
		done:              make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n, nil
}

// Publish implements Publisher. Only terminal session updates produce a push.
func (n *Ntfy) Publish(_ context.Context, event Event) {
	if n == nil || event.Type != EventSessionUpdated || !event.Terminal || event.Session == nil {
		return
	}
	msg, err := n.render(event.Session)
	if err != nil {
		logging.WarnWithContext(n.logger, "ntfy template render failed", "ntfy_render_failed",
			logging.String(logging.FieldSessionID, event.Session.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "notification skipped"),
			logging.String(logging.FieldErrorHint, "check notifications.completed_template and failed_template"),
		)
		return
	}
	select {
	case <-n.done:
	case n.queue <- msg:
	default:
		n.logger.Debug("ntfy queue full; dropping notification", logging.String(logging.FieldSessionID, event.Session.ID))
	}
}

// TestNotification sends a low-priority test message synchronously.
func (n *Ntfy) TestNotification(ctx context.Context) error {
	if n == nil {
		return nil
	}
	return n.send(ctx, message{
		title:    "sessionqa - Test",
		body:     "Notification system test",
		tags:     []string{"sessionqa", "test"},
		priority: "low",
	})
}

// Close stops the worker after draining queued messages.
func (n *Ntfy) Close() {
	if n == nil {
		return
	}
	n.closeOnce.Do(func() {
		close(n.done)
	})
	n.wg.Wait()
}

func (n *Ntfy) run() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.queue:
			n.deliver(msg)
		case <-n.done:
			for {
				select {
				case msg := <-n.queue:
					n.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *Ntfy) deliver(msg message) {
	if err := n.send(context.Background(), msg); err != nil {
		logging.WarnWithContext(n.logger, "ntfy delivery failed", "ntfy_send_failed",
			logging.String("title", msg.title),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operator was not notified"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
		)
	}
}

func (n *Ntfy) render(s *session.Session) (message, error) {
	data := map[string]string{
		"id":      s.ID,
		"title":   s.Title,
		"tutor":   s.TutorID,
		"reason":  string(s.FailureReason),
		"detail":  s.FailureDetail,
		"retries": strconv.Itoa(s.RetryCount),
	}
	if s.AIScore != nil {
		data["score"] = strconv.FormatFloat(*s.AIScore, 'f', 2, 64)
	}
	if s.AnalysisStatus == session.AnalysisCompleted {
		body, err := n.completedTemplate.Render(data)
		if err != nil {
			return message{}, err
		}
		return message{
			title: "sessionqa - Analysis Complete",
			body:  body,
			tags:  []string{"sessionqa", "analysis", "completed"},
		}, nil
	}
	body, err := n.failedTemplate.Render(data)
	if err != nil {
		return message{}, err
	}
	return message{
		title:    "sessionqa - Failed",
		body:     body,
		tags:     []string{"sessionqa", "error", "alert"},
		priority: "high",
	}, nil
}

func (n *Ntfy) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
