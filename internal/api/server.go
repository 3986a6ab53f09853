// Package api exposes the HTTP administrative surface for the crawler:
// submit-crawl, status, search, and stats, treated by the core pipeline
// as an external collaborator per spec.md §1.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlmesh/crawlmesh/internal/config"
	"github.com/crawlmesh/crawlmesh/internal/frontier"
	"github.com/crawlmesh/crawlmesh/internal/index"
	"github.com/crawlmesh/crawlmesh/internal/metrics"
	"github.com/crawlmesh/crawlmesh/internal/store"
)

// Server wires HTTP handlers to the frontier, metadata store, and search
// index. It does not touch the job queue directly: submitting a crawl only
// creates the crawl_jobs row and seeds the frontier; the worker's
// frontier-pump is what moves work onto the queue.
type Server struct {
	router   chi.Router
	store    store.Store
	frontier frontier.Frontier
	sink     index.Sink
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. progressHandler
// may be nil, in which case the job-history endpoints it owns are omitted.
func NewServer(
	metaStore store.Store,
	fr frontier.Frontier,
	sink index.Sink,
	cfg config.Config,
	logger *zap.Logger,
	progressHandler *ProgressHandler,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    metaStore,
		frontier: fr,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{job_id}", s.getJobStatus)
		r.Get("/stats", s.getStats)
		r.Get("/search", s.search)

		if progressHandler != nil {
			r.Get("/jobs/{job_id}/runs", progressHandler.GetJob)
			r.Get("/jobs/{job_id}/sites", progressHandler.ListJobSites)
			r.Get("/runs", progressHandler.ListJobs)
		}
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitJob handles POST /v1/jobs. It creates the crawl_jobs row and seeds
// the frontier with the seed URL at depth 0; the worker's frontier pump
// picks it up from there.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Standard != "" {
		tmpl, ok := s.cfg.StandardJobs[req.Standard]
		if !ok {
			writeError(w, http.StatusNotFound, "standard job template not found")
			return
		}
		req.URL = tmpl.URL
		if req.MaxDepth == 0 {
			req.MaxDepth = tmpl.MaxDepth
		}
		if len(req.DomainFilter) == 0 {
			req.DomainFilter = tmpl.DomainFilter
		}
		if req.Priority == 0 {
			req.Priority = tmpl.Priority
		}
	}

	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.MaxDepth <= 0 {
		req.MaxDepth = s.cfg.Crawl.MaxDepth
	}
	if req.Priority <= 0 {
		req.Priority = 5
	}

	job := &store.CrawlJob{
		URL:          req.URL,
		Status:       store.JobStatusInProgress,
		Priority:     req.Priority,
		MaxDepth:     req.MaxDepth,
		DomainFilter: req.DomainFilter,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if _, err := s.frontier.Enqueue(r.Context(), req.URL, "", 0, job.ID, req.Priority); err != nil {
		s.logger.Error("seed frontier failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to seed frontier")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// getStats handles GET /v1/stats, returning the frontier's current
// pending/processing/completed/failed breakdown.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.frontier.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load frontier stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"frontier": stats})
}

// search handles GET /v1/search?q=&limit=, proxying to the configured
// document sink.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 20
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = val
	}
	hits, err := s.sink.Search(r.Context(), q, limit)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", q), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

type submitJobRequest struct {
	URL          string   `json:"url"`
	Standard     string   `json:"standard,omitempty"`
	MaxDepth     int      `json:"max_depth,omitempty"`
	DomainFilter []string `json:"domain_filter,omitempty"`
	Priority     int      `json:"priority,omitempty"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
