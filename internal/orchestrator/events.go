package orchestrator

import (
	"fmt"
	"strings"

	"github.com/example/lean-prover/internal/models"
)

// Stage names a step of the generate, verify, refine loop.
type Stage string

const (
	StageProbe    Stage = "probe"
	StageGenerate Stage = "generate"
	StageVerify   Stage = "verify"
	StageRejected Stage = "rejected"
	StageRefine   Stage = "refine"
	StageAccepted Stage = "accepted"
	StageFailed   Stage = "failed"
)

// Progress is reported to the caller's observer as the loop advances. It lives only for
// the duration of one Process call.
type Progress struct {
	Stage       Stage
	Attempt     int
	MaxAttempts int
	Diagnostic  string
	Reason      models.FailureReason
}

const previewMax = 300

// String renders the progress as a human-readable status line.
func (p Progress) String() string {
	switch p.Stage {
	case StageProbe:
		return "Checking Lean toolchain..."
	case StageGenerate:
		return "Generating initial proof..."
	case StageVerify:
		return fmt.Sprintf("Verifying attempt %d/%d with Lean...", p.Attempt, p.MaxAttempts)
	case StageRejected:
		if p.Reason == models.VerificationTimeout {
			return fmt.Sprintf("Attempt %d timed out: %s", p.Attempt, preview(p.Diagnostic))
		}
		return fmt.Sprintf("Attempt %d rejected: %s", p.Attempt, preview(p.Diagnostic))
	case StageRefine:
		return fmt.Sprintf("Refining proof (attempt %d/%d)...", p.Attempt, p.MaxAttempts)
	case StageAccepted:
		return fmt.Sprintf("Proof verified on attempt %d.", p.Attempt)
	case StageFailed:
		if p.Diagnostic != "" {
			return fmt.Sprintf("%s: %s", p.Reason, preview(p.Diagnostic))
		}
		return string(p.Reason)
	default:
		return string(p.Stage)
	}
}

// preview collapses whitespace and truncates long diagnostics for status lines.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewMax {
		return string(r[:previewMax]) + "..."
	}
	return s
}
