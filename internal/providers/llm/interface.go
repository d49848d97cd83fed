package llm

import (
	"context"
)

// Request is one chat-style completion: a system/user message pair plus sampling bounds.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Client is the provider surface used by the prover. Implementations convert SDK
// failures into *Error so the resilient wrapper can classify them.
type Client interface {
	Name() string
	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream forwards incremental fragments to onDelta. A non-nil error from onDelta aborts the stream.
	Stream(ctx context.Context, req Request, onDelta func(chunk string) error) error
}
