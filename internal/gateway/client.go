package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client executes gateway descriptors against upstream endpoints.
type Client struct {
	client           *http.Client
	maxResponseBytes int64
	logger           *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithMaxResponseBytes bounds how much of an upstream body Fetch reads.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) { c.maxResponseBytes = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a gateway client with a 30s timeout and 8 MiB response
// bound by default.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		client:           &http.Client{Timeout: 30 * time.Second},
		maxResponseBytes: 8 << 20,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes a descriptor and returns the raw upstream response.
// The caller owns the response body.
func (c *Client) Do(ctx context.Context, d *Descriptor) (*http.Response, error) {
	req, err := NewRequest(d)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	c.logger.Debug("gateway request", "method", req.Method, "url", req.URL.Redacted())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request to %s: %w", d.BaseURL, err)
	}
	return resp, nil
}

// Fetch executes a descriptor and returns the response body, bounded by the
// configured limit. Non-2xx statuses are returned as errors with the body
// included for diagnostics.
func (c *Client) Fetch(ctx context.Context, d *Descriptor) ([]byte, error) {
	resp, err := c.Do(ctx, d)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading gateway response from %s: %w", d.BaseURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway upstream %s returned %s: %s", d.BaseURL, resp.Status, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
