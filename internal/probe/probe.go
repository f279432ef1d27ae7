// Package probe performs the bounded HTTP status checks used to validate
// external reference URLs and the routes of a freshly started server.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every status check.
const DefaultTimeout = 5 * time.Second

// Checker returns the HTTP status code served at url.
type Checker interface {
	Check(ctx context.Context, url string) (int, error)
}

// HTTPChecker issues a GET request with a fixed client timeout.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker builds a checker; a non-positive timeout uses DefaultTimeout.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPChecker{client: &http.Client{Timeout: timeout}}
}

// Check implements Checker. Redirects are followed by the client, so the
// final status is reported.
func (c *HTTPChecker) Check(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build status request for %s: %w", url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("check %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, url string) (int, error)

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, url string) (int, error) {
	return f(ctx, url)
}

var _ Checker = (*HTTPChecker)(nil)
