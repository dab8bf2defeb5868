// Package ollama is a minimal client for the Ollama generate API.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-caption/internal/httpc"
	"github.com/teslashibe/go-caption/internal/log"
)

// Defaults for a local Ollama install.
const (
	DefaultURL     = "http://localhost:11434"
	DefaultModel   = "gemma3:4b"
	DefaultTimeout = 90 * time.Second
)

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

// GenerateResponse is a non-streamed generate result.
type GenerateResponse struct {
	Model         string `json:"model"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration,omitempty"`
}

// Client talks to one Ollama server.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the vision model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = httpc.NewClient(d) }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the server at baseURL. An empty baseURL
// uses DefaultURL. A trailing /api/generate is accepted and stripped.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultURL
	}
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/api/generate")

	c := &Client{
		baseURL: baseURL,
		model:   DefaultModel,
		http:    httpc.NewClient(DefaultTimeout),
		logger:  log.Component("ollama"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		return nil, ErrNoModel
	}
	return c, nil
}

// URL returns the generate endpoint.
func (c *Client) URL() string {
	return c.baseURL + "/api/generate"
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends req. An empty req.Model uses the client's model.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	resp, err := httpc.PostJSON(ctx, c.http, c.URL(), req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, body)
	}

	var out GenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return &out, nil
}

// Describe asks the model about one base64 image and returns the trimmed
// response text.
func (c *Client) Describe(ctx context.Context, prompt, imageB64 string) (string, error) {
	start := time.Now()
	c.logger.Debug("generate", "model", c.model, "url", c.URL())

	resp, err := c.Generate(ctx, &GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Images: []string{imageB64},
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug("generate done", "model", c.model, "latency_ms", time.Since(start).Milliseconds())
	return strings.TrimSpace(resp.Response), nil
}

// Ping checks that the server answers on /api/tags.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// parseError prefers the JSON "error" field and falls back to the raw body.
func parseError(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
