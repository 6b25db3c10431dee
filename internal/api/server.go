// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapai/scrapai/internal/crawl"
	"github.com/scrapai/scrapai/internal/metrics"
)

// Server wires HTTP handlers to the frontier and page store.
type Server struct {
	router   chi.Router
	frontier crawl.Frontier
	pages    crawl.PageStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(frontier crawl.Frontier, pages crawl.PageStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		frontier: frontier,
		pages:    pages,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/crawl", s.submitURLs)
		r.Get("/search", s.search)
		r.Get("/pages", s.listPages)
		r.Get("/stats", s.stats)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The frontier is the one dependency every request path needs.
	if _, err := s.frontier.Stats(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URLs []string `json:"urls"`
}

type crawlResponse struct {
	Queued  int      `json:"queued"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Server) submitURLs(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one URL required")
		return
	}

	var resp crawlResponse
	for _, rawURL := range req.URLs {
		created, err := s.frontier.Enqueue(r.Context(), rawURL)
		if err != nil {
			resp.Errors = append(resp.Errors, rawURL+": "+err.Error())
			continue
		}
		if created {
			resp.Queued++
		} else {
			resp.Skipped++
		}
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := intQueryParam(r, "limit", 10)

	pages, err := s.pages.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("search pages", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(pages),
		"results": pageSummaries(pages),
	})
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	offset := intQueryParam(r, "offset", 0)
	limit := intQueryParam(r, "limit", 50)

	pages, err := s.pages.GetPages(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list pages", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(pages),
		"pages": pageSummaries(pages),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.frontier.Stats(r.Context())
	if err != nil {
		s.logger.Error("queue stats", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"queue": stats})
}

// pageSummary trims stored content for list responses.
type pageSummary struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	ContentHash string    `json:"content_hash"`
	WordCount   int       `json:"word_count"`
	CrawlTime   time.Time `json:"crawl_time"`
	Embedded    bool      `json:"embedded"`
}

const snippetLength = 300

func pageSummaries(pages []crawl.Page) []pageSummary {
	out := make([]pageSummary, 0, len(pages))
	for _, p := range pages {
		snippet := p.Content
		if len(snippet) > snippetLength {
			snippet = snippet[:snippetLength]
		}
		out = append(out, pageSummary{
			ID:          p.ID,
			URL:         p.URL,
			Title:       p.Title,
			Snippet:     snippet,
			ContentHash: p.ContentHash,
			WordCount:   p.WordCount,
			CrawlTime:   p.CrawlTime,
			Embedded:    p.Embedded,
		})
	}
	return out
}

func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
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
				s.logger.Error("panic recovered", zap.Any("panic", rec))
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
		s.logger.Error("write JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
