package ratelimit

import (
	"strings"
	"time"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

// ErrorClass groups failures by the backoff policy they trigger.
type ErrorClass int

const (
	// ClassNetwork covers timeouts and connection failures.
	ClassNetwork ErrorClass = iota
	// ClassRateLimited covers HTTP 429 responses.
	ClassRateLimited
	// ClassServer covers HTTP 5xx responses.
	ClassServer
	// ClassForbidden covers HTTP 403 responses, which may indicate blocking.
	ClassForbidden
)

// String names the class for logs and metrics labels.
func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassServer:
		return "server"
	case ClassForbidden:
		return "forbidden"
	default:
		return "network"
	}
}

// Backoff bases and caps per error class.
var backoffBounds = map[ErrorClass]struct {
	base time.Duration
	cap  time.Duration
}{
	ClassRateLimited: {base: 60 * time.Second, cap: 300 * time.Second},
	ClassServer:      {base: 30 * time.Second, cap: 120 * time.Second},
	ClassForbidden:   {base: 300 * time.Second, cap: 1800 * time.Second},
	ClassNetwork:     {base: 5 * time.Second, cap: 30 * time.Second},
}

// ReportFailure records a failed request against the host and extends
// its backoff window exponentially in the consecutive error count.
// Enough forbidden responses block the host outright.
func (l *Limiter) ReportFailure(host string, class ErrorClass) {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()

	bo, ok := l.backoffs[host]
	if !ok {
		bo = &hostBackoff{}
		l.backoffs[host] = bo
	}
	bo.consecutiveErrors++

	bounds := backoffBounds[class]
	delay := bounds.base << uint(bo.consecutiveErrors-1)
	if delay > bounds.cap || delay <= 0 {
		delay = bounds.cap
	}
	bo.until = time.Now().Add(delay)

	if class == ClassForbidden {
		bo.forbiddenCount++
		if bo.forbiddenCount >= l.cfg.ForbiddenThreshold {
			bo.blocked = true
		}
	}
	metrics.ObserveBackoff(host, class.String())
}

// ReportSuccess clears the host's backoff window and error counter.
// A blocked host stays blocked.
func (l *Limiter) ReportSuccess(host string) {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	bo, ok := l.backoffs[host]
	if !ok {
		return
	}
	if bo.blocked {
		return
	}
	bo.consecutiveErrors = 0
	bo.until = time.Time{}
}

// HostState is a point-in-time view of one host's limiter state.
type HostState struct {
	Host              string    `json:"host"`
	Tokens            float64   `json:"tokens"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	BackoffUntil      time.Time `json:"backoff_until,omitempty"`
	Blocked           bool      `json:"blocked"`
}

// Snapshot returns an eventually-consistent view of all known hosts.
func (l *Limiter) Snapshot() []HostState {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(l.buckets)+len(l.backoffs))
	out := make([]HostState, 0, len(l.buckets)+len(l.backoffs))
	for host, bucket := range l.buckets {
		state := HostState{Host: host, Tokens: bucket.Tokens()}
		if bo, ok := l.backoffs[host]; ok {
			state.ConsecutiveErrors = bo.consecutiveErrors
			state.BackoffUntil = bo.until
			state.Blocked = bo.blocked
		}
		out = append(out, state)
		seen[host] = struct{}{}
	}
	for host, bo := range l.backoffs {
		if _, ok := seen[host]; ok {
			continue
		}
		out = append(out, HostState{
			Host:              host,
			ConsecutiveErrors: bo.consecutiveErrors,
			BackoffUntil:      bo.until,
			Blocked:           bo.blocked,
		})
	}
	return out
}
