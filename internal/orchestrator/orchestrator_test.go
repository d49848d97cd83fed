package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/lean-prover/internal/metrics"
	"github.com/example/lean-prover/internal/models"
	"github.com/example/lean-prover/internal/providers/llm"
)

type fakeGenerator struct {
	generateCalls int
	refineCalls   int
	diagnostics   []string
	failGenerate  bool
	failRefineAt  int
	onRefine      func()
}

func (g *fakeGenerator) Generate(ctx context.Context, statement string) llm.Result {
	g.generateCalls++
	if g.failGenerate {
		return llm.Result{Failure: &llm.Failure{Kind: llm.KindAPI, Attempts: 1, Err: errors.New("401 unauthorized")}}
	}
	return llm.Result{Content: "proof 1"}
}

func (g *fakeGenerator) Refine(ctx context.Context, statement, previous, diagnostic string) llm.Result {
	g.refineCalls++
	g.diagnostics = append(g.diagnostics, diagnostic)
	if g.onRefine != nil {
		g.onRefine()
	}
	if g.failRefineAt == g.refineCalls {
		return llm.Result{Failure: &llm.Failure{Kind: llm.KindRateLimit, Attempts: 3, Err: errors.New("429")}}
	}
	return llm.Result{Content: fmt.Sprintf("proof %d", g.refineCalls+1)}
}

type fakeVerifier struct {
	available   bool
	acceptOn    int
	probes      int
	verified    []string
	diagnostics []string
	timeoutOn   int
}

func (v *fakeVerifier) Probe(ctx context.Context) bool {
	v.probes++
	return v.available
}

func (v *fakeVerifier) Verify(ctx context.Context, text string) models.VerificationOutcome {
	v.verified = append(v.verified, text)
	n := len(v.verified)
	if n == v.acceptOn {
		return models.VerificationOutcome{Accepted: true}
	}
	if n == v.timeoutOn {
		return models.VerificationOutcome{Diagnostic: "timed out", Failure: models.VerificationTimeout}
	}
	diag := fmt.Sprintf("D%d", n)
	if n-1 < len(v.diagnostics) {
		diag = v.diagnostics[n-1]
	}
	return models.VerificationOutcome{Diagnostic: diag, Failure: models.VerificationRejected}
}

func TestProcessAcceptsOnThirdAttempt(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{available: true, acceptOn: 3}
	o := New(gen, ver, 3, nil, nil)

	r := o.Process(context.Background(), "n + 0 = n for all naturals", nil)

	require.True(t, r.Success)
	require.NotNil(t, r.FinalCandidate)
	assert.Equal(t, "proof 3", r.FinalCandidate.Text)
	assert.Equal(t, 3, r.FinalCandidate.Attempt)
	assert.Equal(t, models.ProvenanceRefined, r.FinalCandidate.Provenance)
	assert.Empty(t, r.FailureReason)

	require.Len(t, r.AttemptHistory, 3)
	assert.Equal(t, "D1", r.AttemptHistory[0].Outcome.Diagnostic)
	assert.Equal(t, "D2", r.AttemptHistory[1].Outcome.Diagnostic)
	assert.True(t, r.AttemptHistory[2].Outcome.Accepted)
	assert.Equal(t, models.ProvenanceInitial, r.AttemptHistory[0].Candidate.Provenance)
	assert.Equal(t, []string{"D1", "D2"}, gen.diagnostics)
	assert.Equal(t, 1, gen.generateCalls)
	assert.Equal(t, 2, gen.refineCalls)
}

func TestProcessToolchainUnavailable(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{available: false}
	o := New(gen, ver, 3, nil, nil)

	r := o.Process(context.Background(), "n + 0 = n for all naturals", nil)

	assert.False(t, r.Success)
	assert.Equal(t, models.ToolchainUnavailable, r.FailureReason)
	assert.Empty(t, r.AttemptHistory)
	assert.Zero(t, gen.generateCalls)
	assert.Zero(t, gen.refineCalls)
	assert.Empty(t, ver.verified)
}

func TestProcessVerifierBoundedByMaxAttempts(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			gen := &fakeGenerator{}
			ver := &fakeVerifier{available: true}
			r := New(gen, ver, n, nil, nil).Process(context.Background(), "s", nil)

			assert.False(t, r.Success)
			assert.Equal(t, models.VerificationExhausted, r.FailureReason)
			assert.Len(t, ver.verified, n)
			assert.Len(t, r.AttemptHistory, n)
			assert.Equal(t, n-1, gen.refineCalls)
			assert.Equal(t, fmt.Sprintf("D%d", n), r.Detail)
			assert.Nil(t, r.FinalCandidate)
			assert.Equal(t, fmt.Sprintf("proof %d", n), r.LastCandidate().Text)
		})
	}
}

func TestProcessStopsGeneratingAfterAcceptance(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{available: true, acceptOn: 1}
	r := New(gen, ver, 5, nil, nil).Process(context.Background(), "s", nil)

	require.True(t, r.Success)
	assert.Len(t, r.AttemptHistory, 1)
	assert.Equal(t, 1, gen.generateCalls)
	assert.Zero(t, gen.refineCalls)
	assert.Len(t, ver.verified, 1)
}

func TestProcessGenerationError(t *testing.T) {
	gen := &fakeGenerator{failGenerate: true}
	ver := &fakeVerifier{available: true}
	r := New(gen, ver, 3, nil, nil).Process(context.Background(), "s", nil)

	assert.False(t, r.Success)
	assert.Equal(t, models.GenerationError, r.FailureReason)
	assert.Empty(t, r.AttemptHistory)
	assert.Contains(t, r.Detail, "401 unauthorized")
	assert.Empty(t, ver.verified)
}

func TestProcessRefineErrorKeepsHistory(t *testing.T) {
	gen := &fakeGenerator{failRefineAt: 1}
	ver := &fakeVerifier{available: true}
	r := New(gen, ver, 3, nil, nil).Process(context.Background(), "s", nil)

	assert.Equal(t, models.GenerationError, r.FailureReason)
	require.Len(t, r.AttemptHistory, 1)
	assert.Contains(t, r.Detail, "rateLimit")
	assert.Len(t, ver.verified, 1)
}

func TestProcessTimeoutDrivesRefinement(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{available: true, timeoutOn: 1, acceptOn: 2}
	r := New(gen, ver, 3, nil, nil).Process(context.Background(), "s", nil)

	require.True(t, r.Success)
	assert.Equal(t, models.VerificationTimeout, r.AttemptHistory[0].Outcome.Failure)
	assert.Equal(t, []string{"timed out"}, gen.diagnostics)
}

func TestProcessCancelledStopsAtNextBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{onRefine: cancel}
	ver := &fakeVerifier{available: true}
	r := New(gen, ver, 5, nil, nil).Process(ctx, "s", nil)

	assert.Equal(t, models.TransportError, r.FailureReason)
	assert.Len(t, ver.verified, 1)
	assert.Equal(t, 1, gen.refineCalls)
}

func TestProcessAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &fakeGenerator{}
	ver := &fakeVerifier{available: true}
	r := New(gen, ver, 3, nil, nil).Process(ctx, "s", nil)

	assert.Equal(t, models.TransportError, r.FailureReason)
	assert.Zero(t, ver.probes)
	assert.Zero(t, gen.generateCalls)
}

func TestProcessReportsProgress(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{available: true, acceptOn: 2}
	var stages []Stage
	var lines []string
	New(gen, ver, 3, nil, nil).Process(context.Background(), "s", func(p Progress) {
		stages = append(stages, p.Stage)
		lines = append(lines, p.String())
		assert.Equal(t, 3, p.MaxAttempts)
	})

	assert.Equal(t, []Stage{StageProbe, StageGenerate, StageVerify, StageRejected, StageRefine, StageVerify, StageAccepted}, stages)
	assert.Equal(t, "Verifying attempt 1/3 with Lean...", lines[2])
	assert.Equal(t, "Attempt 1 rejected: D1", lines[3])
	assert.Equal(t, "Proof verified on attempt 2.", lines[6])
}

func TestProcessRecordsMetrics(t *testing.T) {
	m := metrics.New(false)
	gen := &fakeGenerator{}
	ver := &fakeVerifier{available: true, acceptOn: 2}
	New(gen, ver, 3, nil, m).Process(context.Background(), "s", nil)

	out, err := testutil.GatherAndCount(m.Registry, "lean_prover_orchestrator_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(`
# HELP lean_prover_orchestrator_runs_total Proof runs by terminal result
# TYPE lean_prover_orchestrator_runs_total counter
lean_prover_orchestrator_runs_total{result="success"} 1
`), "lean_prover_orchestrator_runs_total"))
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("x ", 400)
	p := preview(long)
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.Len(t, []rune(p), previewMax+3)
	assert.Equal(t, "a b", preview("a\n\n  b"))
}
