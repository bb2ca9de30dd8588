package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mysql-mirror/internal/database"
	appErrors "mysql-mirror/internal/errors"
	"mysql-mirror/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

const shutdownTimeout = 10 * time.Second

// HealthChecker reports the server version of both databases
type HealthChecker interface {
	Versions(ctx context.Context) (map[database.Role]string, error)
}

// Server is the HTTP front of a Runner
type Server struct {
	runner  *Runner
	health  HealthChecker
	metrics http.Handler
	logger  *logging.Logger
	router  chi.Router
}

// Option configures a Server
type Option func(*Server)

// WithHealthChecker enables GET /healthz
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics mounts h on GET /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New builds the router
func New(runner *Runner, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{runner: runner, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/backup", s.handleBackup)
		r.Post("/restore", s.handleRestore)
		r.Post("/init", s.handleInit)
		r.Get("/status", s.handleStatus)
		r.Put("/status/auto-backup", s.handleAutoBackup)
	})

	if s.health != nil {
		r.Get("/healthz", s.handleHealth)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router = r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.CreateContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

// Run handlers detach from the request context so that a client
// disconnecting mid-restore cannot abort the run between tables.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Backup(context.WithoutCancel(r.Context()))
	if report == nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, statusFor(err), report)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Restore(context.WithoutCancel(r.Context()))
	if report == nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, statusFor(err), report)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Initialize(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.runner.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type autoBackupRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAutoBackup(w http.ResponseWriter, r *http.Request) {
	var req autoBackupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.Enabled == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: `missing required field "enabled"`})
		return
	}

	if err := s.runner.SetAutoBackup(r.Context(), *req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}

	status, err := s.runner.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Versions map[database.Role]string `json:"versions,omitempty"`
	Running  string                   `json:"running,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	versions, err := s.health.Versions(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "unavailable",
			Versions: versions,
			Error:    appErrors.Describe(err),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Versions: versions, Running: s.runner.Running()})
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: appErrors.Describe(err)}
	if !errors.Is(err, ErrBusy) {
		resp.Type = string(appErrors.GetErrorType(err))
	}
	s.writeJSON(w, statusFor(err), resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to write HTTP response")
	}
}

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrBusy) {
		return http.StatusConflict
	}

	switch appErrors.GetErrorType(err) {
	case appErrors.ErrorTypeConnection, appErrors.ErrorTypeTimeout:
		return http.StatusServiceUnavailable
	case appErrors.ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
