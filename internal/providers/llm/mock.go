package llm

import (
	"context"
	"strings"
)

// MockClient is used when no real provider is configured. It answers every request with
// a fixed Lean skeleton so the pipeline can be exercised offline.
type MockClient struct{}

const mockProof = "```lean\ntheorem mock_statement (n : Nat) : n + 0 = n := by\n  simp\n```"

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return mockProof, nil
}

func (m *MockClient) Stream(ctx context.Context, req Request, onDelta func(chunk string) error) error {
	for _, field := range strings.SplitAfter(mockProof, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(field); err != nil {
			return err
		}
	}
	return nil
}
