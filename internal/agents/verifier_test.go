package agents

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/lean-prover/internal/models"
)

const fakeLean = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "Lean (version 4.9.0, release)"
  exit 0
fi
if grep -q slow "$1"; then
  exec sleep 5
fi
if grep -q sorry "$1"; then
  echo "$1:3:2: error: declaration uses 'sorry'"
  exit 1
fi
if grep -q noisy "$1"; then
  echo "bad things" >&2
  exit 2
fi
exit 0
`

func writeFakeLean(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stand-in requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "lean")
	require.NoError(t, os.WriteFile(path, []byte(fakeLean), 0o755))
	return path
}

func newTestVerifier(t *testing.T) (*LeanVerifier, string) {
	bin := writeFakeLean(t)
	scratch := t.TempDir()
	v := NewLeanVerifier([]string{bin}, "", 2*time.Second, time.Second, 0, nil)
	v.TempDir = scratch
	return v, scratch
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary proof files must be removed")
}

func TestProbe(t *testing.T) {
	v, _ := newTestVerifier(t)
	assert.True(t, v.Probe(context.Background()))

	missing := NewLeanVerifier([]string{filepath.Join(t.TempDir(), "nope")}, "", time.Second, time.Second, 0, nil)
	assert.False(t, missing.Probe(context.Background()))

	empty := NewLeanVerifier(nil, "", time.Second, time.Second, 0, nil)
	assert.False(t, empty.Probe(context.Background()))
}

func TestVerifyAccepted(t *testing.T) {
	v, scratch := newTestVerifier(t)
	out := v.Verify(context.Background(), "theorem t : 1 = 1 := rfl")
	assert.True(t, out.Accepted)
	assert.Empty(t, out.Failure)
	assert.Greater(t, out.Elapsed, time.Duration(0))
	assertNoTempFiles(t, scratch)
}

func TestVerifyRejectedCarriesDiagnostic(t *testing.T) {
	v, scratch := newTestVerifier(t)
	out := v.Verify(context.Background(), "theorem t : 1 = 2 := by\n  sorry")
	assert.False(t, out.Accepted)
	assert.Equal(t, models.VerificationRejected, out.Failure)
	assert.Contains(t, out.Diagnostic, "declaration uses 'sorry'")
	assertNoTempFiles(t, scratch)
}

func TestVerifyRejectedUsesStderr(t *testing.T) {
	v, scratch := newTestVerifier(t)
	out := v.Verify(context.Background(), "-- noisy")
	assert.Equal(t, models.VerificationRejected, out.Failure)
	assert.Equal(t, "bad things", out.Diagnostic)
	assertNoTempFiles(t, scratch)
}

func TestVerifyTimeoutIsDistinct(t *testing.T) {
	v, scratch := newTestVerifier(t)
	v.Timeout = 200 * time.Millisecond
	out := v.Verify(context.Background(), "-- slow")
	assert.False(t, out.Accepted)
	assert.Equal(t, models.VerificationTimeout, out.Failure)
	assert.Contains(t, out.Diagnostic, "did not finish")
	assertNoTempFiles(t, scratch)
}

func TestVerifyMissingBinaryIsRejected(t *testing.T) {
	scratch := t.TempDir()
	v := NewLeanVerifier([]string{filepath.Join(t.TempDir(), "nope")}, "", time.Second, time.Second, 0, nil)
	v.TempDir = scratch
	out := v.Verify(context.Background(), "theorem t : True := trivial")
	assert.Equal(t, models.VerificationRejected, out.Failure)
	assert.Contains(t, out.Diagnostic, "run lean")
	assertNoTempFiles(t, scratch)
}

func TestVerifyObserve(t *testing.T) {
	v, _ := newTestVerifier(t)
	var seen []models.VerificationOutcome
	v.Observe = func(o models.VerificationOutcome) { seen = append(seen, o) }
	v.Verify(context.Background(), "ok")
	v.Verify(context.Background(), "sorry")
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Accepted)
	assert.False(t, seen[1].Accepted)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}
	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = lw.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = lw.Write([]byte("ij"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcde", buf.String())
	assert.True(t, lw.truncated)
}

func TestDiagnosticFallsBackToExitCode(t *testing.T) {
	assert.Equal(t, "lean exited with status 3", diagnostic("", "  ", 3))
	assert.Equal(t, "err\nout", diagnostic("out", "err", 1))
}
