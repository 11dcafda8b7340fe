// Package ops provides the thin adapters around unreliable external
// calls: HTTP fetches and subprocess invocations. Each produces typed
// errors at the origin so the classifier receives structured fields
// instead of re-parsing message strings.
package ops

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hxann/curator/internal/resilience/fault"
)

// FetchResult carries the payload of a successful fetch.
type FetchResult struct {
	Body     []byte
	Status   int
	Duration time.Duration
}

// HTTPFetcher performs bounded HTTP GETs with a per-call timeout.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given per-call timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs a GET. Non-2xx responses become typed *fault.HTTPError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &fault.HTTPError{
			Status: resp.StatusCode,
			URL:    url,
			Body:   truncate(string(body), 512),
		}
	}

	return &FetchResult{
		Body:     body,
		Status:   resp.StatusCode,
		Duration: time.Since(start),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
