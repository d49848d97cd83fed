package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/lean-prover/internal/providers/llm"
)

// Generator produces Lean candidates for a statement. Both calls return a tagged
// result and never panic.
type Generator interface {
	Generate(ctx context.Context, statement string) llm.Result
	Refine(ctx context.Context, statement, previous, diagnostic string) llm.Result
}

// Prover prompts a provider for Lean 4 proofs through the resilient wrapper.
type Prover struct {
	Client      llm.Client
	Caller      *llm.Resilient
	Temperature float32
	MaxTokens   int
	Logger      *zap.Logger
}

func NewProver(client llm.Client, caller *llm.Resilient, temperature float32, maxTokens int, logger *zap.Logger) *Prover {
	if logger == nil {
		logger = zap.NewNop()
	}
	if caller == nil {
		caller = llm.NewResilient(llm.DefaultRetryPolicy(), logger)
	}
	return &Prover{Client: client, Caller: caller, Temperature: temperature, MaxTokens: maxTokens, Logger: logger}
}

const systemPrompt = "You are an expert in mathematics and in proving theorems with Lean 4."

func (p *Prover) request(user string) llm.Request {
	return llm.Request{System: systemPrompt, User: user, Temperature: p.Temperature, MaxTokens: p.MaxTokens}
}

// Generate asks for an initial proof of statement.
func (p *Prover) Generate(ctx context.Context, statement string) llm.Result {
	req := p.request(buildProofPrompt(statement))
	res := p.Caller.Call(ctx, "generate", func(ctx context.Context) (string, error) {
		return p.Client.Complete(ctx, req)
	})
	if res.OK() {
		res.Content = cleanLeanCode(res.Content)
	}
	return res
}

// Refine asks for a corrected proof given the checker's diagnostic for the previous one.
func (p *Prover) Refine(ctx context.Context, statement, previous, diagnostic string) llm.Result {
	req := p.request(buildRefinePrompt(statement, previous, diagnostic))
	res := p.Caller.Call(ctx, "refine", func(ctx context.Context) (string, error) {
		return p.Client.Complete(ctx, req)
	})
	if res.OK() {
		res.Content = cleanLeanCode(res.Content)
	}
	return res
}

// Draft streams an initial proof fragment by fragment. The call is retried only while
// nothing has been forwarded; Content holds the raw concatenated text.
func (p *Prover) Draft(ctx context.Context, statement string, onDelta func(fragment string) error) llm.Result {
	req := p.request(buildProofPrompt(statement))
	return p.Caller.Call(ctx, "draft", func(ctx context.Context) (string, error) {
		var b strings.Builder
		forwarded := false
		err := p.Client.Stream(ctx, req, func(fragment string) error {
			forwarded = true
			b.WriteString(fragment)
			return onDelta(fragment)
		})
		if err != nil {
			if forwarded {
				return b.String(), llm.NoRetry(err)
			}
			return "", err
		}
		return b.String(), nil
	})
}

func buildProofPrompt(statement string) string {
	return fmt.Sprintf(`Write a complete Lean 4 proof of the statement below.
Output ONLY Lean code: include any imports, state the theorem formally, then prove it.
Do not use sorry or admit.

Statement:
%s`, statement)
}

func buildRefinePrompt(statement, previous, diagnostic string) string {
	return fmt.Sprintf(`The Lean 4 proof below was rejected by the Lean checker.
Fix it and output ONLY the corrected, complete Lean code.

Statement:
%s

Previous proof:
%s

Checker output:
%s`, statement, previous, diagnostic)
}

// cleanLeanCode drops markdown fence lines such as "```lean" and "```".
func cleanLeanCode(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
