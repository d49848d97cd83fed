package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiClient{client: c, model: model}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) Close() error { return c.client.Close() }

// generativeModel returns a fresh model handle per call so sampling settings never leak
// between concurrent requests.
func (c *GeminiClient) generativeModel(req Request) *genai.GenerativeModel {
	m := c.client.GenerativeModel(c.model)
	m.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	return m
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.generativeModel(req).GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return "", classifyGoogle(err)
	}
	txt := firstText(resp)
	if txt == "" {
		return "", &Error{Kind: KindAPI, Err: errors.New("no candidates")}
	}
	return strings.TrimSpace(txt), nil
}

func (c *GeminiClient) Stream(ctx context.Context, req Request, onDelta func(chunk string) error) error {
	iter := c.generativeModel(req).GenerateContentStream(ctx, genai.Text(req.User))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return classifyGoogle(err)
		}
		if s := allText(resp); s != "" {
			if err := onDelta(s); err != nil {
				return err
			}
		}
	}
}

func firstText(r *genai.GenerateContentResponse) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func allText(r *genai.GenerateContentResponse) string {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// classifyGoogle handles both REST (googleapi.Error) and gRPC status errors.
func classifyGoogle(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return statusError(gerr.Code, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return &Error{Kind: KindRateLimit, StatusCode: http.StatusTooManyRequests, Err: err}
		case codes.Unavailable, codes.DeadlineExceeded:
			return &Error{Kind: KindConnection, Err: err}
		case codes.Canceled, codes.Unknown, codes.OK:
		default:
			return &Error{Kind: KindAPI, Err: err}
		}
	}
	return err
}
