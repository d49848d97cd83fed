package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/lean-prover/internal/agents"
	"github.com/example/lean-prover/internal/metrics"
	"github.com/example/lean-prover/internal/models"
)

// Orchestrator drives the bounded generate, verify, refine loop. It holds no per-run
// state, so one value serves concurrent requests.
type Orchestrator struct {
	Generator   agents.Generator
	Verifier    agents.Verifier
	MaxAttempts int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

func New(generator agents.Generator, verifier agents.Verifier, maxAttempts int, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Orchestrator{Generator: generator, Verifier: verifier, MaxAttempts: maxAttempts, Logger: logger, Metrics: m}
}

// run is the state of a single Process call.
type run struct {
	o       *Orchestrator
	observe func(Progress)
	logger  *zap.Logger
	limit   int
	history []models.AttemptRecord
}

func (r *run) emit(p Progress) {
	p.MaxAttempts = r.limit
	if r.observe != nil {
		r.observe(p)
	}
}

func (r *run) fail(reason models.FailureReason, detail string) *models.Report {
	r.emit(Progress{Stage: StageFailed, Reason: reason, Diagnostic: detail})
	r.logger.Info("proof run failed", zap.String("reason", string(reason)), zap.Int("attempts", len(r.history)))
	return &models.Report{
		AttemptHistory: r.history,
		FailureReason:  reason,
		Detail:         detail,
	}
}

// Process runs the loop for statement and reports progress to observe (which may be nil).
// It always returns a non-nil report.
func (o *Orchestrator) Process(ctx context.Context, statement string, observe func(Progress)) *models.Report {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := o.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	r := &run{o: o, observe: observe, logger: logger, limit: limit, history: []models.AttemptRecord{}}
	report := r.process(ctx, statement)
	o.Metrics.RecordRun(report)
	return report
}

func (r *run) process(ctx context.Context, statement string) *models.Report {
	o := r.o
	if err := ctx.Err(); err != nil {
		return r.fail(models.TransportError, err.Error())
	}

	r.emit(Progress{Stage: StageProbe})
	if !o.Verifier.Probe(ctx) {
		if err := ctx.Err(); err != nil {
			return r.fail(models.TransportError, err.Error())
		}
		return r.fail(models.ToolchainUnavailable, "lean is not installed or not reachable")
	}

	r.emit(Progress{Stage: StageGenerate})
	res := o.Generator.Generate(ctx, statement)
	if !res.OK() {
		if err := ctx.Err(); err != nil {
			return r.fail(models.TransportError, err.Error())
		}
		return r.fail(models.GenerationError, res.Failure.Error())
	}
	candidate := models.Candidate{Text: res.Content, Attempt: 1, Provenance: models.ProvenanceInitial}

	for attempt := 1; attempt <= r.limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return r.fail(models.TransportError, err.Error())
		}
		r.emit(Progress{Stage: StageVerify, Attempt: attempt})
		outcome := o.Verifier.Verify(ctx, candidate.Text)
		r.history = append(r.history, models.AttemptRecord{Candidate: candidate, Outcome: outcome})
		o.Metrics.RecordAttempt(outcome)

		if outcome.Accepted {
			r.emit(Progress{Stage: StageAccepted, Attempt: attempt})
			r.logger.Info("proof accepted", zap.Int("attempt", attempt))
			final := candidate
			return &models.Report{Success: true, FinalCandidate: &final, AttemptHistory: r.history}
		}
		r.emit(Progress{Stage: StageRejected, Attempt: attempt, Diagnostic: outcome.Diagnostic, Reason: outcome.Failure})
		if attempt == r.limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return r.fail(models.TransportError, err.Error())
		}

		r.emit(Progress{Stage: StageRefine, Attempt: attempt + 1})
		res := o.Generator.Refine(ctx, statement, candidate.Text, outcome.Diagnostic)
		if !res.OK() {
			if err := ctx.Err(); err != nil {
				return r.fail(models.TransportError, err.Error())
			}
			return r.fail(models.GenerationError, res.Failure.Error())
		}
		candidate = models.Candidate{Text: res.Content, Attempt: attempt + 1, Provenance: models.ProvenanceRefined}
	}

	last := r.history[len(r.history)-1].Outcome.Diagnostic
	return r.fail(models.VerificationExhausted, last)
}
