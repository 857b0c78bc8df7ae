// Package api exposes the HTTP interface for the ingest service: health,
// Prometheus metrics, and the seed endpoint that loads URLs onto the work
// topic.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/metrics"
	"github.com/ragline/ingest/internal/seeder"
)

// seedSource is the slice of seeder.Seeder the server needs.
type seedSource interface {
	SeedSitemap(ctx context.Context, sitemapURL string) (seeder.Report, error)
	SeedURLs(ctx context.Context, urls []string) seeder.Report
}

// Server wires HTTP handlers to the seeder.
type Server struct {
	router chi.Router
	seeder seedSource
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(seed seedSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{seeder: seed, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/seed", s.seed)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type seedRequest struct {
	SitemapURL string   `json:"sitemap_url"`
	URLs       []string `json:"urls"`
}

// seed accepts either a sitemap URL to expand or an explicit URL list, and
// publishes every resolved URL as one crawl work message.
func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SitemapURL == "" && len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "sitemap_url or urls required")
		return
	}

	var report seeder.Report
	if req.SitemapURL != "" {
		var err error
		report, err = s.seeder.SeedSitemap(r.Context(), req.SitemapURL)
		if err != nil {
			s.logger.Warn("sitemap seed failed",
				zap.String("sitemap", req.SitemapURL), zap.Error(err))
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	} else {
		report = s.seeder.SeedURLs(r.Context(), req.URLs)
	}

	status := http.StatusAccepted
	if report.Failed > 0 {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, report)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		metrics.ObserveHTTPRequest(r.Method, ww.status)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
