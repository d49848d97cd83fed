package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearProviderEnv keeps keys from the developer's shell out of the test.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "PROVER_LLM_PROVIDER", "PROVER_LLM_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Lean.MaxAttempts)
	assert.Equal(t, 50, cfg.Stream.HeartbeatEvery)
	assert.Equal(t, 200, cfg.Stream.ChunkThreshold)
	assert.Equal(t, 50*time.Millisecond, cfg.Stream.Pacing)
}

func TestLoadYAMLFile(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "prover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
lean:
  command: ["lake", "env", "lean"]
  timeout: 45s
  max_attempts: 5
stream:
  pacing: 0s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"lake", "env", "lean"}, cfg.Lean.Command)
	assert.Equal(t, 45*time.Second, cfg.Lean.Timeout)
	assert.Equal(t, 5, cfg.Lean.MaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.Stream.Pacing)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Lean.ProbeTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("PROVER_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PROVER_LEAN_MAX_ATTEMPTS", "7")
	t.Setenv("PROVER_STREAM_PACING", "10ms")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.Lean.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Stream.Pacing)
}

func TestProviderPickedFromKey(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "ak-test", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.LLM.Provider = "gemini"
	assert.ErrorContains(t, cfg.Validate(), "llm.api_key is required")

	cfg = Default()
	cfg.LLM.Provider = "cohere"
	assert.ErrorContains(t, cfg.Validate(), "unknown llm.provider")

	cfg = Default()
	cfg.Lean.MaxAttempts = 0
	cfg.Lean.Command = nil
	cfg.Stream.HeartbeatEvery = 0
	err := cfg.Validate()
	assert.ErrorContains(t, err, "lean.max_attempts")
	assert.ErrorContains(t, err, "lean.command")
	assert.ErrorContains(t, err, "stream.heartbeat_every")
}
