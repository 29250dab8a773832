package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aqxion/leadcrawler/internal/ratelimit"
)

// StatusError reports a non-success HTTP response from the fetcher.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Error wraps a failed fetch with enough context for the caller to log
// the URL and move on without aborting the batch.
type Error struct {
	URL        string
	Host       string
	StatusCode int
	Class      ratelimit.ErrorClass
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d (%s): %v", e.URL, e.StatusCode, e.Class, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RejectionError reports that fetched content failed validation or
// duplicate detection. It is a normal filtered outcome.
type RejectionError struct {
	URL    string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("content rejected for %s: %s", e.URL, e.Reason)
}

// ErrContentRejected matches any RejectionError via errors.Is.
var ErrContentRejected = errors.New("content rejected")

func (e *RejectionError) Is(target error) bool {
	return target == ErrContentRejected
}

// classify maps a fetcher error to its backoff class and whether a
// bounded retry is worthwhile. Context cancellation is never retried.
func classify(err error) (class ratelimit.ErrorClass, retryable bool, fatal bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ratelimit.ClassNetwork, false, false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return ratelimit.ClassRateLimited, true, false
		case statusErr.StatusCode >= 500:
			return ratelimit.ClassServer, true, false
		case statusErr.StatusCode == 403:
			return ratelimit.ClassForbidden, true, false
		case statusErr.StatusCode >= 400:
			return ratelimit.ClassNetwork, false, true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ratelimit.ClassNetwork, true, false
	}
	return ratelimit.ClassNetwork, true, false
}
