// Package breaker implements a per-dependency circuit breaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

// ErrOpen is returned when the breaker rejects a call without invoking it.
var ErrOpen = errors.New("circuit breaker open")

// State captures the breaker state machine.
type State int

const (
	// StateClosed indicates normal operation.
	StateClosed State = iota
	// StateOpen indicates the breaker is rejecting calls.
	StateOpen
	// StateHalfOpen indicates trial calls are permitted.
	StateHalfOpen
)

// String names the state for logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config controls thresholds for state transitions.
type Config struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	CallTimeout      time.Duration
}

// Metrics is a point-in-time view of breaker counters.
type Metrics struct {
	State               string    `json:"state"`
	TotalCalls          int64     `json:"total_calls"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejected            int64     `json:"rejected"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	LastStateChangeAt   time.Time `json:"last_state_change_at"`
}

// Breaker guards calls to one unreliable external dependency.
type Breaker struct {
	cfg    Config
	logger *zap.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	halfOpenInFlight    bool
	totalCalls          int64
	successes           int64
	failures            int64
	rejected            int64
	lastFailureAt       time.Time
	lastStateChangeAt   time.Time
}

// New creates a Breaker with defaults filled in.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:               cfg,
		logger:            logger.With(zap.String("breaker", cfg.Name)),
		state:             StateClosed,
		lastStateChangeAt: time.Now(),
	}
}

// Do executes fn under the breaker. While Open and inside the recovery
// timeout it fails fast with ErrOpen. After the timeout a single
// half-open trial call runs at a time, with a bounded per-call timeout;
// concurrent callers get ErrOpen until it completes.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalCalls++

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailureAt) < b.cfg.RecoveryTimeout {
			b.rejected++
			metrics.ObserveBreakerRejection(b.cfg.Name)
			return fmt.Errorf("%s: %w", b.cfg.Name, ErrOpen)
		}
		b.transition(StateHalfOpen)
		b.halfOpenInFlight = true
	case StateHalfOpen:
		// One trial call at a time; everyone else keeps failing fast.
		if b.halfOpenInFlight {
			b.rejected++
			metrics.ObserveBreakerRejection(b.cfg.Name)
			return fmt.Errorf("%s: %w", b.cfg.Name, ErrOpen)
		}
		b.halfOpenInFlight = true
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenInFlight = false

	if err != nil {
		b.failures++
		b.consecutiveFailures++
		b.lastFailureAt = time.Now()
		switch {
		case b.state == StateHalfOpen:
			b.transition(StateOpen)
		case b.state == StateClosed && b.consecutiveFailures >= b.cfg.FailureThreshold:
			b.transition(StateOpen)
		}
		return
	}

	b.successes++
	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.logger.Info("breaker state change",
		zap.String("from", b.state.String()),
		zap.String("to", next.String()),
		zap.Int("consecutive_failures", b.consecutiveFailures),
	)
	b.state = next
	b.lastStateChangeAt = time.Now()
	if next == StateHalfOpen {
		b.halfOpenSuccesses = 0
	}
	metrics.ObserveBreakerState(b.cfg.Name, next.String())
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:               b.state.String(),
		TotalCalls:          b.totalCalls,
		Successes:           b.successes,
		Failures:            b.failures,
		Rejected:            b.rejected,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		LastStateChangeAt:   b.lastStateChangeAt,
	}
}
