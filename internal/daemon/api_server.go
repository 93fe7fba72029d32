package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sessionqa/internal/api"
	"sessionqa/internal/logging"
	"sessionqa/internal/services"
)

const maxRequestBody = 8 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if d == nil || bind == "" {
		return nil
	}
	srv := &apiServer{bind: bind, logger: logger, daemon: d}
	srv.server = &http.Server{
		Handler:           srv.routes(token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		// The websocket stream is long-lived and must stay outside the
		// request timeout.
		r.Get("/ws", s.daemon.hub.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/status", s.handleStatus)
			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleAddSessions)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Post("/sessions/{id}/retry-download", s.handleRetryDownload)
			r.Post("/sessions/{id}/retry-analysis", s.handleRetryAnalysis)
			r.Post("/reset", s.handleReset)
			r.Post("/notifications/test", s.handleTestNotification)
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := api.SessionFilter{DownloadStatus: query.Get("download"), AnalysisStatus: query.Get("analysis")}
	list, err := api.FilterSessions(s.daemon.ListSessions(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.daemon.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(sess)})
}

func (s *apiServer) handleAddSessions(w http.ResponseWriter, r *http.Request) {
	var req api.AddSessionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.daemon.AddSessions(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if len(resp.Added) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *apiServer) handleRetryDownload(w http.ResponseWriter, r *http.Request) {
	s.handleRetry(w, r, s.daemon.RetryDownload)
}

func (s *apiServer) handleRetryAnalysis(w http.ResponseWriter, r *http.Request) {
	s.handleRetry(w, r, s.daemon.RetryAnalysis)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request, retry func(context.Context, api.RetryRequest) (api.RetryResponse, error)) {
	var req api.RetryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.ID = chi.URLParam(r, "id")
	resp, err := retry(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	var req api.ResetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.daemon.Reset(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed",
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
			logging.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoMedia), errors.Is(err, services.ErrFolderNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
