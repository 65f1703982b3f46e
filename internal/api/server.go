// Package api exposes the HTTP interface for the markdown rendering service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillhq/pagemd/internal/config"
	"github.com/quillhq/pagemd/internal/pipeline"
	"github.com/quillhq/pagemd/internal/telemetry"
)

// Coordinator processes conversion requests.
type Coordinator interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// Server wires HTTP handlers to the request coordinator.
type Server struct {
	router      chi.Router
	coordinator Coordinator
	cfg         config.Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(coordinator Coordinator, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		cfg:         cfg,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	// Coarse safety net in front of the per-client quota service.
	r.Use(httprate.LimitByIP(cfg.Quota.RequestsPerMinute*4, time.Minute))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Get("/", s.convert)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) convert(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	targetURL := query.Get("url")
	if targetURL == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(helpPage))
		return
	}

	if s.cfg.Auth.Enabled && query.Get("api_key") != s.cfg.Auth.APIKey {
		writeText(w, http.StatusUnauthorized,
			`Unauthorized. Please provide a valid API key using the "api_key" query parameter.`)
		return
	}

	shape := pipeline.ShapeText
	if r.Header.Get("content-type") == "application/json" {
		shape = pipeline.ShapeJSON
	}

	req := pipeline.Request{
		URL:       targetURL,
		Detailed:  query.Get("enableDetailedResponse") == "true",
		Crawl:     query.Get("crawlSubpages") == "true",
		LLMFilter: query.Get("llmFilter") == "true",
		Shape:     shape,
		ClientIP:  clientIP(r),
	}

	resp, err := s.coordinator.Process(r.Context(), req)
	if err != nil {
		s.writeProcessError(w, req, err)
		return
	}

	status := http.StatusOK
	if resp.RateLimited {
		status = http.StatusTooManyRequests
	}
	if shape == pipeline.ShapeJSON {
		writeJSON(w, status, resp.Results)
		return
	}
	writeText(w, status, resp.Results[0].Markdown)
}

func (s *Server) writeProcessError(w http.ResponseWriter, req pipeline.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidURL):
		writeText(w, http.StatusBadRequest,
			"Invalid URL provided, should be a full URL starting with http:// or https://")
	case errors.Is(err, pipeline.ErrCrawlNeedsJSON):
		writeText(w, http.StatusBadRequest,
			"Error: Crawl subpages can only be enabled with JSON content type")
	case errors.Is(err, pipeline.ErrSessionUnavailable):
		s.logger.Error("browser session unavailable", zap.String("url", req.URL), zap.Error(err))
		writeText(w, http.StatusInternalServerError,
			"Could not start browser instance. Please check the logs for more details.")
	default:
		s.logger.Error("request processing failed",
			zap.String("url", req.URL),
			zap.Error(err),
			zap.Stack("stack"),
		)
		writeText(w, http.StatusInternalServerError,
			"An error occurred while processing the request. Please check the logs for more details.")
	}
}

// clientIP resolves the client identity used for quota decisions.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
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
		elapsed := time.Since(start)
		telemetry.ObserveHTTPRequest(r.Method, ww.status, elapsed)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.Stack("stack"))
				writeText(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
