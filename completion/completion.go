// Package completion provides a transport-agnostic text-completion client
// for any OpenAI-compatible chat server. The healing engine uses one call
// per AI-assisted adaptation; everything else treats the model as an
// opaque collaborator.
//
// Usage:
//
//	c := completion.New(completion.Config{
//	    Endpoint: "http://localhost:8001",
//	    Model:    "qwen2.5-coder",
//	})
//	out, err := c.Complete(ctx, prompt)
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client produces one completion per prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Config configures the completion client.
type Config struct {
	// Endpoint is the base URL of the completion server. If empty, a
	// NoopClient is returned.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key" yaml:"api_key"`

	// MaxTokens bounds the response length. Default: 1024.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates a Client from config. If Endpoint is empty, returns a
// NoopClient whose completions are always empty.
func New(cfg Config) Client {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return &noopClient{model: cfg.Model}
	}
	return &httpClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// noopClient returns empty completions when no model endpoint is configured.
type noopClient struct {
	model string
}

func (n *noopClient) Complete(_ context.Context, _ string) (string, error) {
	return "", nil
}
func (n *noopClient) Model() string { return n.model }

type httpClient struct {
	cfg  Config
	http *http.Client
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpClient) Model() string { return c.cfg.Model }

func (c *httpClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("completion: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: POST: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("completion: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("completion: server returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("completion: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("completion: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
