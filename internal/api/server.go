// Package api provides the operational HTTP server: health, cycle status
// and metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mesonet-io/satsync/internal/status"
	"github.com/mesonet-io/satsync/internal/versions"
)

// requestTimeout bounds request handling, status reads included.
const requestTimeout = 30 * time.Second

// ServerOption configures the operational server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler mounts a Prometheus handler at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates and configures the HTTP router
func NewServer(statusPersist status.Persistence, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	routes := &routes{statusPersist: statusPersist}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", routes.getHealth)
	r.Get("/version", routes.getVersion)
	r.Get("/status", routes.getStatus)
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type routes struct {
	statusPersist status.Persistence
}

func (*routes) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (*routes) getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versions.GetVersionInfo())
}

// getStatus returns the persisted record of the most recent update cycle.
func (rt *routes) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := rt.statusPersist.Load(r.Context())
	if err != nil {
		slog.Error("Failed to load cycle status", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load cycle status"})
		return
	}
	if st.Phase == "" {
		st.Phase = status.PhaseComplete
		st.Message = "no update cycle has run yet"
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
