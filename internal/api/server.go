// Package api exposes the HTTP interface for the fetch engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/breaker"
	"github.com/aqxion/leadcrawler/internal/fetch"
	"github.com/aqxion/leadcrawler/internal/metrics"
	"github.com/aqxion/leadcrawler/internal/ratelimit"
	"github.com/aqxion/leadcrawler/internal/sink"
)

// Server wires HTTP handlers to the fetch pool and component snapshots.
type Server struct {
	router   chi.Router
	pool     *fetch.Pool
	limiter  *ratelimit.Limiter
	breakers map[string]*breaker.Breaker
	sink     sink.Provider
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	pool *fetch.Pool,
	limiter *ratelimit.Limiter,
	breakers map[string]*breaker.Breaker,
	artifacts sink.Provider,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pool:     pool,
		limiter:  limiter,
		breakers: breakers,
		sink:     artifacts,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", s.fetchURL)
		r.Post("/fetch/batch", s.fetchBatch)
		r.Get("/stats", s.stats)
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

type fetchRequest struct {
	URL     string   `json:"url"`
	URLs    []string `json:"urls"`
	Keyword string   `json:"keyword"`
}

type fetchFailure struct {
	URL    string `json:"url"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) fetchURL(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	artifact, err := s.pool.FetchKeyword(r.Context(), req.URL, req.Keyword)
	if err != nil {
		s.writeFetchError(w, req.URL, err)
		return
	}
	s.deliver(r.Context(), artifact)
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) fetchBatch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "missing urls")
		return
	}

	results := s.pool.FetchBatch(r.Context(), req.URLs, req.Keyword)
	accepted := make([]fetch.Artifact, 0, len(results))
	failed := make([]fetchFailure, 0)
	for _, res := range results {
		if res.Err != nil {
			failure := fetchFailure{URL: res.URL, Error: res.Err.Error()}
			var rejection *fetch.RejectionError
			if errors.As(res.Err, &rejection) {
				failure.Error = ""
				failure.Reason = rejection.Reason
			}
			failed = append(failed, failure)
			continue
		}
		s.deliver(r.Context(), res.Artifact)
		accepted = append(accepted, res.Artifact)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"failed":   failed,
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	breakerStats := make(map[string]breaker.Metrics, len(s.breakers))
	for name, b := range s.breakers {
		breakerStats[name] = b.Metrics()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hosts":    s.limiter.Snapshot(),
		"breakers": breakerStats,
	})
}

// publishBreaker names the breaker guarding artifact delivery. It must
// match the instance registered by the app container.
const publishBreaker = "publish"

func (s *Server) deliver(ctx context.Context, artifact fetch.Artifact) {
	if s.sink == nil {
		return
	}
	publish := func(ctx context.Context) error {
		return s.sink.Publish(ctx, artifact)
	}
	var err error
	if b, ok := s.breakers[publishBreaker]; ok {
		err = b.Do(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		s.logger.Warn("artifact publish failed",
			zap.String("url", artifact.URL), zap.Error(err))
	}
}

func (s *Server) writeFetchError(w http.ResponseWriter, url string, err error) {
	var rejection *fetch.RejectionError
	switch {
	case errors.As(err, &rejection):
		// A filtered artifact is a normal outcome, not a server error.
		writeJSON(w, http.StatusOK, map[string]any{
			"accepted": false,
			"url":      url,
			"reason":   rejection.Reason,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	case errors.Is(err, ratelimit.ErrHostBlocked):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Info("fetch failed", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// NewHTTPServer wraps the handler in an http.Server with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
