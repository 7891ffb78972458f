// Package httpclient provides the transport used by the fetch executor. It
// only fetches bytes; interpreting them is the normalizer's job.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the default timeout for one transport call.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxResponseSize is the default response size cap (50MB).
	// Several providers publish full historical datasets; anything larger
	// is rejected rather than buffered.
	DefaultMaxResponseSize = 50 * 1024 * 1024

	// UserAgent is the user agent string for outbound requests.
	UserAgent = "datahub-orchestrator/1.0"

	acceptHeader = "application/json, text/csv;q=0.9, " +
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet;q=0.9, */*;q=0.5"
)

// Client is an interface for HTTP operations
type Client interface {
	// Get performs an HTTP GET request and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client  *http.Client
	maxSize int64
}

// ClientOption configures a DefaultClient.
type ClientOption func(*DefaultClient)

// WithMaxResponseSize overrides the response size cap.
func WithMaxResponseSize(n int64) ClientOption {
	return func(c *DefaultClient) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// NewDefaultClient creates a new default HTTP client with the specified
// timeout. If timeout is 0, uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration, opts ...ClientOption) Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
		maxSize: DefaultMaxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, resp.Status)
	}

	if resp.ContentLength > c.maxSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, c.maxSize)
	}

	// +1 so reading past the cap is detectable
	limitedReader := io.LimitReader(resp.Body, c.maxSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", c.maxSize)
	}

	return body, nil
}
