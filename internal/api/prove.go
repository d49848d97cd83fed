package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/lean-prover/internal/models"
	"github.com/example/lean-prover/internal/orchestrator"
	"github.com/example/lean-prover/internal/store"
	"github.com/example/lean-prover/internal/stream"
	"github.com/example/lean-prover/internal/tools"
)

const (
	ModeVerify = "verify"
	ModeDraft  = "draft"
)

type proveRequest struct {
	Statement     string      `json:"statement"`
	StatementHTML string      `json:"statement_html"`
	File          *tools.File `json:"file"`
	SessionID     *int64      `json:"session_id"`
	Title         string      `json:"title"`
	Mode          string      `json:"mode"`
}

const finalizeTimeout = 5 * time.Second

func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
	limits := s.Limits
	if limits.MaxBytes <= 0 {
		limits = tools.DefaultLimits()
	}
	// base64 inflates uploads by a third
	r.Body = http.MaxBytesReader(w, r.Body, int64(limits.MaxBytes)*2)

	var req proveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeVerify
	}
	if _, err := s.Producer(mode, ""); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	statement, err := tools.ExtractStatement(ctx, tools.Input{Text: req.Statement, HTML: req.StatementHTML, File: req.File}, limits)
	if err != nil && !(errors.Is(err, tools.ErrEmptyStatement) && req.SessionID != nil) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var sess *models.Session
	if req.SessionID != nil {
		sess, err = s.Store.Get(ctx, *req.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		if err == nil && statement == "" {
			statement = sess.Statement
		}
	} else {
		sess, err = s.Store.Create(ctx, statement, req.Title)
	}
	if err != nil {
		s.logger().Error("prepare session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to prepare session")
		return
	}

	sink, err := newSSESink(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	runID := uuid.NewString()
	logger := s.logger().With(zap.String("run_id", runID), zap.Int64("session_id", sess.ID), zap.String("mode", mode))

	SetSSEHeaders(w)
	w.Header().Set("X-Session-ID", strconv.FormatInt(sess.ID, 10))
	w.Header().Set("X-Run-ID", runID)
	w.WriteHeader(http.StatusOK)

	closeStream := s.Metrics.StreamOpened()
	defer closeStream()

	producer, _ := s.Producer(mode, statement)
	enc := *s.Encoder
	enc.Logger = logger
	start := time.Now()
	transcript, err := enc.Run(ctx, sink, producer)
	if err != nil {
		logger.Warn("client went away, session left unfinalized", zap.Error(err))
		return
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := s.Store.Finalize(fctx, sess.ID, transcript.String()); err != nil {
		logger.Error("finalize session", zap.Error(err))
		return
	}
	logger.Info("proof request finished",
		zap.Bool("success", transcript.Succeeded()), zap.Duration("elapsed", time.Since(start)))
}

// Producer returns the stream producer for mode. The CLI drives the same producers
// against a JSON-lines sink.
func (s *Server) Producer(mode, statement string) (stream.Producer, error) {
	switch mode {
	case ModeVerify, "":
		return s.verifyProducer(statement), nil
	case ModeDraft:
		return s.draftProducer(statement), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func (s *Server) emitKnowledge(ctx context.Context, em *stream.Emitter, statement string) error {
	if s.Knowledge == nil {
		return nil
	}
	items, err := s.Knowledge.Related(ctx, statement)
	if err != nil {
		s.logger().Warn("knowledge lookup failed", zap.Error(err))
		return nil
	}
	for _, item := range items {
		if err := em.Knowledge(item); err != nil {
			return err
		}
	}
	return nil
}

// verifyProducer narrates the orchestrator's progress as status events and then delivers
// the accepted (or last attempted) candidate through the buffered chunker.
func (s *Server) verifyProducer(statement string) stream.Producer {
	return func(ctx context.Context, em *stream.Emitter) (stream.Verdict, error) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := em.Status("Received statement, starting verified proof search..."); err != nil {
			return stream.Verdict{}, err
		}
		if err := s.emitKnowledge(ctx, em, statement); err != nil {
			return stream.Verdict{}, err
		}
		var emitErr error
		report := s.Processor.Process(ctx, statement, func(p orchestrator.Progress) {
			if emitErr != nil || p.Stage == orchestrator.StageFailed {
				return
			}
			if emitErr = em.Status(p.String()); emitErr != nil {
				cancel()
			}
		})
		if emitErr != nil {
			return stream.Verdict{}, emitErr
		}

		if c := report.LastCandidate(); c != nil {
			label := "Verified Lean 4 proof:\n"
			if !report.Success {
				label = fmt.Sprintf("Last candidate (attempt %d, not verified):\n", c.Attempt)
			}
			if err := em.Buffered(label, c.Text); err != nil {
				return stream.Verdict{}, err
			}
		}
		if report.Success {
			return stream.Verdict{
				Success: true,
				Message: fmt.Sprintf("Lean accepted the proof on attempt %d.", report.FinalCandidate.Attempt),
			}, nil
		}
		return stream.Verdict{Message: failureMessage(report)}, nil
	}
}

// draftProducer forwards the provider's token stream without verification.
func (s *Server) draftProducer(statement string) stream.Producer {
	return func(ctx context.Context, em *stream.Emitter) (stream.Verdict, error) {
		if err := em.Status("Generating Lean 4 proof..."); err != nil {
			return stream.Verdict{}, err
		}
		if err := s.emitKnowledge(ctx, em, statement); err != nil {
			return stream.Verdict{}, err
		}
		_, err := em.Tokens("Generating proof:\n", func(yield func(string) error) error {
			res := s.Drafter.Draft(ctx, statement, yield)
			if !res.OK() {
				return res.Failure
			}
			return nil
		})
		if err != nil {
			return stream.Verdict{}, err
		}
		return stream.Verdict{Success: true, Message: "Proof draft complete (not verified by Lean)."}, nil
	}
}

func failureMessage(r *models.Report) string {
	switch r.FailureReason {
	case models.ToolchainUnavailable:
		return "ToolchainUnavailable: Lean 4 is not installed or not reachable."
	case models.VerificationExhausted:
		return fmt.Sprintf("VerificationExhausted: no candidate passed Lean after %d attempt(s). Last diagnostic: %s",
			len(r.AttemptHistory), r.Detail)
	default:
		if r.Detail != "" {
			return fmt.Sprintf("%s: %s", r.FailureReason, r.Detail)
		}
		return string(r.FailureReason)
	}
}
