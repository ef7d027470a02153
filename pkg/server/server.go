// Package server exposes the recommendation engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stacks-ai/stacks/pkg/analytics"
	"github.com/stacks-ai/stacks/pkg/config"
	"github.com/stacks-ai/stacks/pkg/models"
	"github.com/stacks-ai/stacks/pkg/orchestrator"
)

// Server is the stacks HTTP API.
type Server struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	analytics *analytics.Store
	mux       *http.ServeMux
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, a *analytics.Store) *Server {
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		analytics: a,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/recommendations", s.handleRecommendations)
	s.mux.HandleFunc("/v1/recommendations/cancel", s.handleCancel)
	s.mux.HandleFunc("/v1/cache", s.handleCache)
	s.mux.HandleFunc("/v1/analytics/summary", s.handleAnalyticsSummary)
	s.mux.HandleFunc("/v1/analytics/sources", s.handleAnalyticsSources)
	s.mux.HandleFunc("/v1/analytics/health", s.handleAnalyticsHealth)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("stacks listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req models.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeJSONError(w, http.StatusBadRequest, "input is required")
		return
	}

	recs, origin, err := s.orch.Resolve(r.Context(), req, nil)
	if err != nil {
		// Only happens when the client went away mid-wait.
		writeJSONError(w, http.StatusRequestTimeout, "request cancelled")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if origin == orchestrator.OriginCache {
		w.Header().Set("X-Stacks-Cache", "hit")
	} else {
		w.Header().Set("X-Stacks-Cache", "miss")
	}
	w.Header().Set("X-Stacks-Origin", string(origin))
	_ = json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		writeJSONError(w, http.StatusBadRequest, "input is required")
		return
	}

	cancelled := s.orch.Cancel(req.Input)
	writeJSON(w, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.orch.CacheStats())
	case http.MethodDelete:
		if err := s.orch.ClearCache(); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "cache clear failed")
			return
		}
		writeJSON(w, map[string]bool{"cleared": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since duration")
			return
		}
		since = time.Now().Add(-d)
	}

	summary, err := s.analytics.Summary(r.Context(), since)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "analytics query failed")
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleAnalyticsSources(w http.ResponseWriter, r *http.Request) {
	perf, err := s.analytics.SourcePerformance(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "analytics query failed")
		return
	}
	writeJSON(w, perf)
}

func (s *Server) handleAnalyticsHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.analytics.Health(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "analytics query failed")
		return
	}
	writeJSON(w, health)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
