package daemon_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"sessionqa/internal/api"
	"sessionqa/internal/testsupport"
)

func newAPI(t *testing.T, token string) *httptest.Server {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(token))
	cfg.Paths.APIBind = ""
	d := startDaemon(t, cfg, nil)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	srv := newAPI(t, "secret")
	var body map[string]string
	if code := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil, &body); code != http.StatusOK {
		t.Fatalf("healthz status = %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz body = %v", body)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	srv := newAPI(t, "secret")

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "missing", token: "", want: http.StatusUnauthorized},
		{name: "wrong", token: "nope", want: http.StatusUnauthorized},
		{name: "valid", token: "secret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := doJSON(t, http.MethodGet, srv.URL+"/api/status", tt.token, nil, nil); code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestAPISessionLifecycle(t *testing.T) {
	srv := newAPI(t, "")
	missing := filepath.Join(t.TempDir(), "absent.mp4")

	var added api.AddSessionsResponse
	code := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", "", api.AddSessionsRequest{
		SkipAnalysis: true,
		Sessions:     []api.SessionInput{{ID: "web-1", SourceURL: missing, Title: "  geometry   basics "}},
	}, &added)
	if code != http.StatusCreated {
		t.Fatalf("POST /api/sessions = %d", code)
	}
	if len(added.Added) != 1 {
		t.Fatalf("added = %+v", added)
	}

	var one api.SessionResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/web-1", "", nil, &one); code != http.StatusOK {
		t.Fatalf("GET session = %d", code)
	}
	if one.Session.ID != "web-1" || one.Session.DisplayTitle != "Geometry Basics" {
		t.Fatalf("unexpected session: %+v", one.Session)
	}

	var list api.SessionListResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "", nil, &list); code != http.StatusOK {
		t.Fatalf("GET sessions = %d", code)
	}
	if len(list.Sessions) != 1 {
		t.Fatalf("list = %+v", list)
	}

	var errResp api.ErrorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/nope", "", nil, &errResp); code != http.StatusNotFound {
		t.Fatalf("GET unknown = %d", code)
	}
	if errResp.Error == "" {
		t.Fatal("expected error message")
	}
}

func TestAPIRejectsBadRequests(t *testing.T) {
	srv := newAPI(t, "")

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/reset", "", api.ResetRequest{Confirm: "no"}, nil); code != http.StatusBadRequest {
		t.Fatalf("reset without confirmation = %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", "", api.AddSessionsRequest{}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty ingest = %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/ghost/retry-analysis", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("retry unknown = %d", code)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sessions?analysis=scored", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown status filter = %d", code)
	}
}

func TestAPIResetWithConfirmation(t *testing.T) {
	srv := newAPI(t, "")

	var resp api.ResetResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/reset", "", api.ResetRequest{Confirm: api.ResetConfirmation}, &resp); code != http.StatusOK {
		t.Fatalf("reset = %d", code)
	}
	if resp.RemovedSessions != 0 || resp.ArtifactsDeleted {
		t.Fatalf("unexpected reset response: %+v", resp)
	}
}

func TestAPIStatusReportsQueues(t *testing.T) {
	srv := newAPI(t, "")
	var status api.DaemonStatus
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/status", "", nil, &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !status.Running || status.StoreBackend != "memory" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Download.Limit == 0 || status.Analysis.Limit == 0 {
		t.Fatalf("expected manager limits, got %+v / %+v", status.Download, status.Analysis)
	}
}
