package caption

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-caption/internal/httpc"
	"github.com/teslashibe/go-caption/internal/log"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client submits frames to a captioning service.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout uses a dedicated HTTP client with the given timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = httpc.NewClient(d) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the service at baseURL,
// e.g. "http://localhost:5000".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoEndpoint
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("caption: parse endpoint: %w", err)
	}

	c := &Client{
		endpoint: baseURL + Path,
		http:     httpc.Client,
		logger:   log.Component("caption.client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the full captioning URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Caption sends one frame and prompt. Every failure is a *TransportError.
func (c *Client) Caption(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	resp, err := httpc.PostJSON(ctx, c.http, c.endpoint, req)
	if err != nil {
		return nil, &TransportError{Kind: NetworkFailure, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Kind: NetworkFailure, Err: fmt.Errorf("read response: %w", err)}
	}

	var out Response
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("Server error: %d", resp.StatusCode)
		}
		c.logger.Debug("caption rejected", "status", resp.StatusCode, "error", msg)
		return nil, &TransportError{Kind: HTTPStatus, StatusCode: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return nil, &TransportError{Kind: MalformedResponse, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}

	c.logger.Debug("caption received", "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())
	return &out, nil
}
