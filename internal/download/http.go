package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"sessionqa/internal/fileutil"
	"sessionqa/internal/services"
)

const (
	interstitialLimit = 100 * 1024
	copyBufferSize    = 256 * 1024
)

// HTTPSource streams http(s) references to disk.
type HTTPSource struct {
	client      *http.Client
	userAgent   string
	idleTimeout time.Duration
}

// NewHTTPSource builds a source whose requests fail with ErrTimeout when
// response headers or body bytes stop arriving for idleTimeout.
func NewHTTPSource(userAgent string, idleTimeout time.Duration) *HTTPSource {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = idleTimeout
	return &HTTPSource{
		client:      &http.Client{Transport: transport},
		userAgent:   userAgent,
		idleTimeout: idleTimeout,
	}
}

// Name implements Source.
func (h *HTTPSource) Name() string { return "http" }

// Match implements Source.
func (h *HTTPSource) Match(reference string) bool {
	u, err := url.Parse(strings.TrimSpace(reference))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch implements Source.
func (h *HTTPSource) Fetch(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(req.Reference), nil)
	if err != nil {
		return Result{}, services.Wrap(services.ErrNetwork, "download", "build request", "invalid url", err)
	}
	if h.userAgent != "" {
		httpReq.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyHTTPError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, services.Wrap(services.ErrNetwork, "download", "fetch",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	var body io.Reader = resp.Body
	if isHTMLContentType(contentType) {
		head, err := io.ReadAll(io.LimitReader(resp.Body, interstitialLimit))
		if err != nil {
			return Result{}, classifyHTTPError(ctx, err)
		}
		if len(head) < interstitialLimit && looksLikeHTMLPage(head) {
			return Result{}, services.Wrap(services.ErrNetwork, "download", "fetch",
				"server returned an HTML page instead of media (sharing or sign-in interstitial)", nil)
		}
		body = io.MultiReader(bytes.NewReader(head), resp.Body)
	}

	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrNetwork, "download", "prepare", "create session directory", err)
	}
	finalPath := filepath.Join(req.DestDir, string(req.Kind)+fileutil.ExtensionForContentType(contentType))
	partPath := filepath.Join(req.DestDir, fmt.Sprintf(".%s-%s.part", req.Kind, uuid.NewString()[:8]))

	written, err := h.copyWithWatchdog(ctx, cancel, partPath, body, resp.ContentLength, req)
	if err != nil {
		_ = os.Remove(partPath)
		if errors.Is(err, errStale) {
			return Result{}, err
		}
		return Result{}, classifyHTTPError(ctx, err)
	}
	if err := req.checkpoint(); err != nil {
		_ = os.Remove(partPath)
		return Result{}, err
	}
	if err := fileutil.Finalize(partPath, finalPath); err != nil {
		_ = os.Remove(partPath)
		return Result{}, services.Wrap(services.ErrNetwork, "download", "finalize", "rename part file", err)
	}

	result := Result{Bytes: written}
	if req.Kind == KindTranscript {
		result.TranscriptPath = finalPath
	} else {
		result.MediaPath = finalPath
	}
	return result, nil
}

func (h *HTTPSource) copyWithWatchdog(ctx context.Context, cancel context.CancelCauseFunc, partPath string, body io.Reader, total int64, req Request) (int64, error) {
	out, err := os.Create(partPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	watchdog := time.AfterFunc(h.idleTimeout, func() { cancel(services.ErrTimeout) })
	defer watchdog.Stop()

	if total <= 0 {
		total = -1
	}
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			watchdog.Reset(h.idleTimeout)
			if _, err := out.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			if err := req.progress(written, total); err != nil {
				return written, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return written, cause
			}
			return written, readErr
		}
	}
	return written, nil
}

func classifyHTTPError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, services.ErrTimeout) {
		return services.Wrap(services.ErrTimeout, "download", "fetch", "no data received before request_timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "download", "fetch", "request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "download", "fetch", "request timed out", err)
	}
	return services.Wrap(services.ErrNetwork, "download", "fetch", "", err)
}

func isHTMLContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}

var htmlMarkers = [][]byte{[]byte("<!doctype html"), []byte("<html"), []byte("<head"), []byte("<body")}

func looksLikeHTMLPage(head []byte) bool {
	sample := head
	if len(sample) > 2048 {
		sample = sample[:2048]
	}
	lower := bytes.ToLower(bytes.TrimSpace(sample))
	for _, marker := range htmlMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
