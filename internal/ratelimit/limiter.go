// Package ratelimit implements a per-host token bucket rate limiter with
// jittered delays and an error-driven backoff overlay.
package ratelimit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

// ErrHostBlocked is returned when a host has accumulated too many
// forbidden responses and further fetches are refused.
var ErrHostBlocked = errors.New("host blocked after repeated forbidden responses")

// Override pins a specific host to a stricter bucket.
type Override struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS         float64
	DefaultBurst       int
	JitterMin          time.Duration
	JitterMax          time.Duration
	ForbiddenThreshold int
	Overrides          map[string]Override
}

// Limiter manages per-host token buckets and backoff windows. All
// per-host state is mutated under the limiter's lock; token waits and
// backoff sleeps happen outside it so hosts proceed in parallel.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	backoffs  map[string]*hostBackoff
	overrides map[string]Override
	cfg       Config
}

type hostBackoff struct {
	consecutiveErrors int
	until             time.Time
	forbiddenCount    int
	blocked           bool
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.DefaultRPS <= 0 {
		cfg.DefaultRPS = 2.0
	}
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 10
	}
	if cfg.JitterMax <= 0 {
		cfg.JitterMin = 100 * time.Millisecond
		cfg.JitterMax = 500 * time.Millisecond
	}
	if cfg.ForbiddenThreshold <= 0 {
		cfg.ForbiddenThreshold = 5
	}
	overrides := make(map[string]Override, len(cfg.Overrides))
	for host, o := range cfg.Overrides {
		overrides[strings.ToLower(host)] = o
	}
	return &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		backoffs:  make(map[string]*hostBackoff),
		overrides: overrides,
		cfg:       cfg,
	}
}

// Acquire blocks until the host may be fetched: it waits out any active
// backoff window, waits for a bucket token, then applies a small random
// jitter. It fails only on context cancellation or a blocked host.
func (l *Limiter) Acquire(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	start := time.Now()

	for {
		wait, err := l.backoffRemaining(host)
		if err != nil {
			return err
		}
		if wait <= 0 {
			break
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return fmt.Errorf("backoff wait: %w", err)
		}
	}

	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	jitter := l.cfg.JitterMin + randomJitter(l.cfg.JitterMax-l.cfg.JitterMin)
	if err := sleepCtx(ctx, jitter); err != nil {
		return fmt.Errorf("jitter wait: %w", err)
	}

	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, delay)
	}
	return nil
}

// Tokens reports the current token count for a host. Hosts without a
// bucket yet report their full burst.
func (l *Limiter) Tokens(host string) float64 {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[host]
	if !ok {
		burst := l.cfg.DefaultBurst
		if o, ok := l.overrides[host]; ok && o.Burst > 0 {
			burst = o.Burst
		}
		return float64(burst)
	}
	return bucket.Tokens()
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[host]
	if !ok {
		rps := l.cfg.DefaultRPS
		burst := l.cfg.DefaultBurst
		if o, ok := l.overrides[host]; ok {
			if o.RPS > 0 {
				rps = o.RPS
			}
			if o.Burst > 0 {
				burst = o.Burst
			}
		}
		bucket = rate.NewLimiter(rate.Limit(rps), burst)
		l.buckets[host] = bucket
	}
	return bucket
}

func (l *Limiter) backoffRemaining(host string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bo, ok := l.backoffs[host]
	if !ok {
		return 0, nil
	}
	if bo.blocked {
		return 0, fmt.Errorf("%q: %w", host, ErrHostBlocked)
	}
	return time.Until(bo.until), nil
}

// IsBlocked reports whether the host is refused outright.
func (l *Limiter) IsBlocked(host string) bool {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	bo, ok := l.backoffs[host]
	return ok && bo.blocked
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
