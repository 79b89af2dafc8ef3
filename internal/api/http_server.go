// Package api exposes the import triggers over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pharmsync/internal/config"
	"pharmsync/internal/metrics"
	"pharmsync/internal/models"
	"pharmsync/internal/scheduler"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the local state the API reads directly.
type Store interface {
	ListActiveBackends(ctx context.Context) ([]*models.Backend, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
	GetFailedImportTasks(ctx context.Context, limit int) ([]*models.ImportTask, error)
	PingContext(ctx context.Context) error
}

// HTTPServer serves the trigger API.
type HTTPServer struct {
	cfg       config.APIConfig
	scheduler *scheduler.Scheduler
	store     Store
	server    *http.Server
	auth      *HTTPAuth
	logger    *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, s *scheduler.Scheduler, store Store, logger *zerolog.Logger) *HTTPServer {
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{cfg: cfg, scheduler: s, store: store, logger: &l}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)
	mux.HandleFunc("POST /api/v1/backends/{id}/import/{entity}", srv.handleImport)
	mux.HandleFunc("POST /api/v1/backends/{id}/fdb", srv.handleImportFDB)
	mux.HandleFunc("POST /api/v1/backends/{id}/fdb/ndc", srv.handleImportFDBNDC)
	mux.HandleFunc("POST /api/v1/cron/import/{entity}", srv.handleCronImport)
	mux.HandleFunc("POST /api/v1/resync/{entity}", srv.handleResync)
	mux.HandleFunc("POST /api/v1/force-sync/{entity}/{remote_id}", srv.handleForceSync)
	mux.HandleFunc("GET /api/v1/backends", srv.handleBackends)
	mux.HandleFunc("GET /api/v1/queue/stats", srv.handleQueueStats)
	mux.HandleFunc("GET /api/v1/queue/failed.xlsx", srv.handleFailedReport)

	handler := srv.requestID(srv.loggingMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}
	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type ctxKey struct{}

const requestIDHeader = "X-Request-ID"

// RequestID returns the id assigned to the request by the API middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route)

		s.logger.Info().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
