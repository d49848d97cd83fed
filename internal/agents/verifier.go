package agents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/lean-prover/internal/models"
)

// Verifier checks candidates against an external proof checker.
type Verifier interface {
	// Probe reports whether the checker can be run at all. It never fails loudly.
	Probe(ctx context.Context) bool
	Verify(ctx context.Context, text string) models.VerificationOutcome
}

// LeanVerifier runs the lean binary (or a wrapper such as "lake env lean") on a temporary
// .lean file holding the candidate.
type LeanVerifier struct {
	// Command is the argv prefix; the file path is appended for checks and --version for probes.
	Command        []string
	WorkDir        string
	TempDir        string
	Timeout        time.Duration
	ProbeTimeout   time.Duration
	MaxOutputBytes int64
	Logger         *zap.Logger
	// Observe, if set, receives every outcome.
	Observe func(models.VerificationOutcome)
}

func NewLeanVerifier(command []string, workDir string, timeout, probeTimeout time.Duration, maxOutput int64, logger *zap.Logger) *LeanVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeanVerifier{
		Command:        command,
		WorkDir:        workDir,
		Timeout:        timeout,
		ProbeTimeout:   probeTimeout,
		MaxOutputBytes: maxOutput,
		Logger:         logger,
	}
}

func (v *LeanVerifier) logger() *zap.Logger {
	if v.Logger == nil {
		return zap.NewNop()
	}
	return v.Logger
}

func (v *LeanVerifier) command(ctx context.Context, extra ...string) (*exec.Cmd, error) {
	if len(v.Command) == 0 || v.Command[0] == "" {
		return nil, errors.New("no lean command configured")
	}
	args := append(append([]string{}, v.Command[1:]...), extra...)
	cmd := exec.CommandContext(ctx, v.Command[0], args...)
	cmd.Dir = v.WorkDir
	cmd.WaitDelay = time.Second
	return cmd, nil
}

// Probe runs "<command> --version" under the probe timeout.
func (v *LeanVerifier) Probe(ctx context.Context) bool {
	timeout := v.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd, err := v.command(ctx, "--version")
	if err != nil {
		return false
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		v.logger().Warn("lean probe failed", zap.Strings("command", v.Command), zap.Error(err))
		return false
	}
	return true
}

// Verify writes text to a temporary .lean file, runs the checker on it and removes the
// file on every path.
func (v *LeanVerifier) Verify(ctx context.Context, text string) models.VerificationOutcome {
	start := time.Now()
	out := v.verify(ctx, text)
	out.Elapsed = time.Since(start)
	if out.Accepted {
		v.logger().Info("lean accepted candidate", zap.Duration("elapsed", out.Elapsed))
	} else {
		v.logger().Info("lean rejected candidate",
			zap.String("failure", string(out.Failure)), zap.Duration("elapsed", out.Elapsed))
	}
	if v.Observe != nil {
		v.Observe(out)
	}
	return out
}

func (v *LeanVerifier) verify(ctx context.Context, text string) models.VerificationOutcome {
	f, err := os.CreateTemp(v.TempDir, "proof-*.lean")
	if err != nil {
		return rejected(fmt.Sprintf("create temp file: %v", err))
	}
	path := f.Name()
	defer os.Remove(path)

	_, werr := f.WriteString(text)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return rejected(fmt.Sprintf("write temp file: %v", err))
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, err := v.command(runCtx, path)
	if err != nil {
		return rejected(err.Error())
	}
	limit := v.MaxOutputBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, max: limit}
	errW := &limitedWriter{w: &stderr, max: limit}
	cmd.Stdout = outW
	cmd.Stderr = errW

	err = cmd.Run()
	if outW.truncated || errW.truncated {
		v.logger().Warn("lean output truncated", zap.Int64("max_bytes", limit))
	}
	if err == nil {
		return models.VerificationOutcome{Accepted: true, Diagnostic: strings.TrimSpace(stdout.String())}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return models.VerificationOutcome{
			Diagnostic: fmt.Sprintf("lean did not finish within %s", timeout),
			Failure:    models.VerificationTimeout,
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return rejected(diagnostic(stdout.String(), stderr.String(), exitErr.ExitCode()))
	}
	return rejected(fmt.Sprintf("run lean: %v", err))
}

func rejected(diag string) models.VerificationOutcome {
	return models.VerificationOutcome{Diagnostic: diag, Failure: models.VerificationRejected}
}

// diagnostic prefers stderr, falls back to stdout (lean prints errors there), then the exit code.
func diagnostic(stdout, stderr string, code int) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(stderr); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(stdout); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("lean exited with status %d", code)
	}
	return strings.Join(parts, "\n")
}

// limitedWriter keeps at most max bytes and silently drops the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	if remaining := lw.max - lw.written; int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
