// Package fetch implements the fetch orchestrator: rate-limited,
// retried, cached and validated HTTP fetching of candidate lead pages.
package fetch

import (
	"context"
	"net/http"
	"time"
)

// Request describes one page fetch.
type Request struct {
	URL     string
	Headers http.Header
}

// Response carries the raw fetched page.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher executes a single HTTP GET. Implementations must honor the
// context and return a *StatusError for non-2xx responses.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// DefaultHeaders returns a realistic browser header set to reduce
// trivial bot detection.
func DefaultHeaders(userAgent string) http.Header {
	h := http.Header{}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}
