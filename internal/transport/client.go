// Package transport implements the outbound HTTP client used for
// server-side cart delivery.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds one delivery attempt end to end.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of the receiver's response is retained
const maxResponseBytes = 64 * 1024

// Config contains outbound client configuration
type Config struct {
	Timeout         time.Duration
	IdleConnTimeout time.Duration
	MinTLSVersion   uint16
}

// DefaultConfig returns a default client configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:         DefaultTimeout,
		IdleConnTimeout: 90 * time.Second,
		MinTLSVersion:   tls.VersionTLS12,
	}
}

// Result is the outcome of one delivery attempt. A non-2xx status is a
// result, not an error: the attempt completed and the receiver answered.
// Error is reserved for transport-level failures where no status exists.
type Result struct {
	StatusCode int
	Body       []byte
}

// Accepted reports whether the receiver acknowledged the post.
func (r *Result) Accepted() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client posts documents to buyer-side endpoints. Delivery is
// single-attempt: retrying a cart post risks duplicate orders on the
// buyer side, which is worse than a failed one.
type Client struct {
	client *http.Client
}

// NewClient creates an outbound delivery client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: config.MinTLSVersion,
		},
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Post sends a raw document to the endpoint with the given content type.
func (c *Client) Post(ctx context.Context, endpoint string, body []byte, contentType string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "go-punchout/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Result{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// PostForm sends url-encoded form fields, as the OCI hook post requires.
func (c *Client) PostForm(ctx context.Context, endpoint string, fields url.Values) (*Result, error) {
	return c.Post(ctx, endpoint, []byte(fields.Encode()), "application/x-www-form-urlencoded")
}
