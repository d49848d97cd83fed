package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAnthropicURL = "https://api.anthropic.com/v1/messages"

type AnthropicClient struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

func NewAnthropicClient(apiKey, model, baseURL string, timeout time.Duration) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &AnthropicClient{APIKey: apiKey, Model: model, BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) body(req Request, stream bool) map[string]any {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]any{
		"model":       c.Model,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"messages": []map[string]any{{
			"role":    "user",
			"content": []map[string]string{{"type": "text", "text": req.User}},
		}},
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	res, err := c.post(ctx, c.body(req, false))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", &Error{Kind: KindAPI, Err: errors.New("no content")}
	}
	return strings.TrimSpace(resp.Content[0].Text), nil
}

// Stream reads the messages SSE feed and forwards text deltas.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, onDelta func(chunk string) error) error {
	res, err := c.post(ctx, c.body(req, true))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	sc := newLineReader(res.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text != "" {
				if err := onDelta(ev.Delta.Text); err != nil {
					return err
				}
			}
		case "message_stop":
			return nil
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			if ev.Error != nil && ev.Error.Type == "rate_limit_error" {
				return &Error{Kind: KindRateLimit, Err: errors.New(msg)}
			}
			return &Error{Kind: KindAPI, Err: errors.New(msg)}
		}
	}
	return sc.Err()
}

func (c *AnthropicClient) post(ctx context.Context, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()
	var eresp map[string]any
	_ = json.NewDecoder(res.Body).Decode(&eresp)
	return nil, statusError(res.StatusCode, fmt.Errorf("anthropic status %d: %v", res.StatusCode, eresp))
}

// newLineReader returns a scanner for SSE lines.
func newLineReader(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)
	return sc
}
