package llm

import (
	"context"
	"fmt"

	"github.com/example/lean-prover/internal/config"
)

// New returns a Client for the configured provider. Each client owns its credentials and
// base URL; nothing is installed into the process environment.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, modelOr(cfg.Model, "gpt-4o-mini"), cfg.BaseURL, cfg.Timeout), nil
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, modelOr(cfg.Model, "claude-3-5-sonnet-latest"), cfg.BaseURL, cfg.Timeout), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, modelOr(cfg.Model, "gemini-1.5-flash"))
	case "mock", "":
		return &MockClient{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func modelOr(model, def string) string {
	if model != "" {
		return model
	}
	return def
}
