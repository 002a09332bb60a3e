// Package scorerd serves the groundedness scoring pipeline over HTTP for
// the remote backend profile. It runs independently of the research engine:
// one scorerd instance can serve many sessions.
package scorerd

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"lit-agent/internal/research"
)

type Server struct {
	scorer research.Scorer
	log    zerolog.Logger
	http   *http.Server
}

func New(addr string, scorer research.Scorer, log zerolog.Logger) *Server {
	s := &Server{scorer: scorer, log: log}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Get("/healthz", s.handleHealth)
	r.Post("/validate", s.handleValidate)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for httptest-driven tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe binds the address and logs readiness before blocking.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Str("backend", s.scorer.Name()).Msg("scorerd ready")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": s.scorer.Name()})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req research.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Claim == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "claim is required"})
		return
	}

	report, err := s.scorer.Score(r.Context(), req)
	if err != nil {
		s.log.Error().Err(err).Msg("scoring failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
