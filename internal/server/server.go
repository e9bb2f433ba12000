// Package server exposes an apitool.Executor over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apitool "github.com/JohnPlummer/jp-go-apitool"
	"github.com/JohnPlummer/jp-go-apitool/internal/config"
)

// ExecutePath is the route that runs a call.
const ExecutePath = "/v1/tools/api/execute"

// Executor runs calls. *apitool.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, cfg apitool.CallConfig) (*apitool.Result, error)
	Health() apitool.ServiceHealth
}

// Server serves the execute, health and metrics endpoints.
type Server struct {
	server   *http.Server
	executor Executor
	logger   *slog.Logger
	maxBody  int64
}

// New creates the HTTP server. Metrics are served on metrics.Path from gatherer when
// metrics are enabled and gatherer is non-nil.
func New(cfg config.Server, metrics config.Metrics, executor Executor, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		executor: executor,
		logger:   logger,
		maxBody:  cfg.MaxBodyBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ExecutePath, s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	if metrics.Enabled && gatherer != nil {
		mux.Handle("GET "+metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	cfg, err := apitool.ParseCallConfig(body)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	result, err := s.executor.Execute(r.Context(), cfg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, apitool.ErrInvalidConfig):
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
	case errors.Is(err, apitool.ErrUnsupportedProtocol):
		s.writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, context.Canceled):
		s.logger.Debug("client went away during call", "path", r.URL.Path)
	default:
		s.logger.Error("call execution failed", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.executor.Health())
}

// errorBody mirrors the Result envelope so clients can parse both the same way.
type errorBody struct {
	Status   apitool.Status    `json:"status"`
	Data     map[string]any    `json:"data"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", code, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", code, "error", err)
	}

	writeJSON(w, code, errorBody{
		Status:   apitool.StatusError,
		Data:     map[string]any{"error": err.Error()},
		Metadata: map[string]string{"path": r.URL.Path},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
