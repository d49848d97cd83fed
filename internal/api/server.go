package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/example/lean-prover/internal/metrics"
	"github.com/example/lean-prover/internal/models"
	"github.com/example/lean-prover/internal/orchestrator"
	"github.com/example/lean-prover/internal/providers/llm"
	"github.com/example/lean-prover/internal/store"
	"github.com/example/lean-prover/internal/stream"
	"github.com/example/lean-prover/internal/tools"
)

// Processor runs the verified proof loop.
type Processor interface {
	Process(ctx context.Context, statement string, observe func(orchestrator.Progress)) *models.Report
}

// Drafter streams an unverified proof.
type Drafter interface {
	Draft(ctx context.Context, statement string, onDelta func(fragment string) error) llm.Result
}

// Server holds the request-independent collaborators. Every request builds its own run
// state, so handlers share nothing mutable.
type Server struct {
	Processor Processor
	Drafter   Drafter
	Encoder   *stream.Encoder
	Store     store.Store
	// Knowledge is optional.
	Knowledge   stream.KnowledgeSource
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Limits      tools.Limits
	RecentLimit int
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("POST /api/prove", s.handleProve)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	q := r.URL.Query()
	if q.Get("recent") == "1" || q.Get("recent") == "true" {
		limit = s.RecentLimit
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	sessions, err := s.Store.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger().Error("list sessions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := s.Store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger().Error("get session", zap.Int64("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
