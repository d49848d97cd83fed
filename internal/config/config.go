package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the complete prover configuration. It is loaded once and passed by value
// into every constructor; nothing reads the process environment after Load returns.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Lean   LeanConfig   `mapstructure:"lean"`
	Stream StreamConfig `mapstructure:"stream"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LLMConfig selects and configures the generation provider.
type LLMConfig struct {
	// Provider is one of "openai", "gemini", "anthropic", "mock".
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	ConnectionBackoff time.Duration `mapstructure:"connection_backoff"`
	RateLimitBackoff  time.Duration `mapstructure:"rate_limit_backoff"`
}

// LeanConfig controls the external checker and the refinement bound.
type LeanConfig struct {
	// Command is the argv prefix; the candidate file path is appended.
	Command        []string      `mapstructure:"command"`
	WorkDir        string        `mapstructure:"work_dir"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

type StreamConfig struct {
	HeartbeatEvery int           `mapstructure:"heartbeat_every"`
	ChunkThreshold int           `mapstructure:"chunk_threshold"`
	Pacing         time.Duration `mapstructure:"pacing"`
}

type StoreConfig struct {
	Path        string `mapstructure:"path"`
	RecentLimit int    `mapstructure:"recent_limit"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":5001"},
		LLM: LLMConfig{
			Provider:    "mock",
			Temperature: 0.1,
			MaxTokens:   2000,
			Timeout:     60 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			ConnectionBackoff: time.Second,
			RateLimitBackoff:  10 * time.Second,
		},
		Lean: LeanConfig{
			Command:        []string{"lean"},
			Timeout:        30 * time.Second,
			ProbeTimeout:   5 * time.Second,
			MaxAttempts:    3,
			MaxOutputBytes: 1 << 20,
		},
		Stream: StreamConfig{
			HeartbeatEvery: 50,
			ChunkThreshold: 200,
			Pacing:         50 * time.Millisecond,
		},
		Store: StoreConfig{Path: "proof_history.db", RecentLimit: 3},
		Log:   LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.timeout", d.LLM.Timeout)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.connection_backoff", d.Retry.ConnectionBackoff)
	v.SetDefault("retry.rate_limit_backoff", d.Retry.RateLimitBackoff)

	v.SetDefault("lean.command", d.Lean.Command)
	v.SetDefault("lean.work_dir", "")
	v.SetDefault("lean.timeout", d.Lean.Timeout)
	v.SetDefault("lean.probe_timeout", d.Lean.ProbeTimeout)
	v.SetDefault("lean.max_attempts", d.Lean.MaxAttempts)
	v.SetDefault("lean.max_output_bytes", d.Lean.MaxOutputBytes)

	v.SetDefault("stream.heartbeat_every", d.Stream.HeartbeatEvery)
	v.SetDefault("stream.chunk_threshold", d.Stream.ChunkThreshold)
	v.SetDefault("stream.pacing", d.Stream.Pacing)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.recent_limit", d.Store.RecentLimit)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Load reads an optional YAML file at path, a .env file in the working directory (if any),
// and PROVER_* environment overrides, in increasing order of precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PROVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderKeys()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyProviderKeys fills the API key from the provider's conventional variable when none
// was configured, and picks a provider from key presence when left on the mock default.
func (c *Config) applyProviderKeys() {
	keys := []struct{ provider, env string }{
		{"openai", "OPENAI_API_KEY"},
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"gemini", "GOOGLE_API_KEY"},
	}
	for _, k := range keys {
		val := strings.TrimSpace(os.Getenv(k.env))
		if val == "" {
			continue
		}
		if c.LLM.Provider == "mock" && c.LLM.APIKey == "" {
			c.LLM.Provider = k.provider
		}
		if c.LLM.Provider == k.provider && c.LLM.APIKey == "" {
			c.LLM.APIKey = val
		}
	}
}

// Validate rejects configurations the prover cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai", "gemini", "anthropic":
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	if c.Lean.MaxAttempts < 1 {
		errs = append(errs, errors.New("lean.max_attempts must be >= 1"))
	}
	if len(c.Lean.Command) == 0 || c.Lean.Command[0] == "" {
		errs = append(errs, errors.New("lean.command must name a binary"))
	}
	if c.Lean.Timeout <= 0 || c.Lean.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("lean timeouts must be positive"))
	}
	if c.Stream.HeartbeatEvery < 1 {
		errs = append(errs, errors.New("stream.heartbeat_every must be >= 1"))
	}
	if c.Stream.ChunkThreshold < 1 {
		errs = append(errs, errors.New("stream.chunk_threshold must be >= 1"))
	}
	return errors.Join(errs...)
}
