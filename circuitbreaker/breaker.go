// Package circuitbreaker implements a fail-fast guard for downstream
// operations. One breaker guards one logical operation name; state is the
// pair (failureCount, lastFailureAt) and "open" is derived from it, so a
// trial call is whatever arrives after the recovery window has elapsed.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/types"
)

// State is the observable breaker state.
type State int

const (
	// StateClosed lets calls pass through.
	StateClosed State = iota
	// StateOpen fails calls fast until the recovery window elapses.
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker settings.
type Config struct {
	// Threshold is the consecutive failure count that opens the circuit.
	Threshold int
	// RecoveryTimeout is the cooldown after the last failure before a
	// trial call is allowed through.
	RecoveryTimeout time.Duration
	// OnStateChange is invoked after a transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		Threshold:       5,
		RecoveryTimeout: 60 * time.Second,
	}
}

// CircuitBreaker guards one logical operation.
type CircuitBreaker interface {
	// Allow reports whether a call may proceed right now.
	Allow() bool
	// RecordSuccess resets the failure count to zero.
	RecordSuccess()
	// RecordFailure increments the failure count and refreshes the
	// failure timestamp, which restarts the recovery window.
	RecordFailure()
	// Do runs fn under the breaker: fail fast when open, record the
	// outcome otherwise.
	Do(ctx context.Context, fn func(context.Context) error) error
	// State returns the derived state.
	State() State
	// FailureCount returns the current consecutive failure count.
	FailureCount() int
	// Name returns the guarded operation name.
	Name() string
}

type breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	failureCount  int
	lastFailureAt time.Time
}

// New creates a breaker for the named operation.
func New(name string, cfg Config, logger *zap.Logger) CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "circuitbreaker"), zap.String("operation", name)),
	}
}

func (b *breaker) Name() string { return b.name }

// openLocked derives the open condition. Callers hold b.mu.
func (b *breaker) openLocked(now time.Time) bool {
	return b.failureCount >= b.cfg.Threshold && now.Sub(b.lastFailureAt) < b.cfg.RecoveryTimeout
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openLocked(time.Now())
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	wasOpen := b.openLocked(time.Now())
	changed := b.failureCount != 0
	b.failureCount = 0
	b.mu.Unlock()

	if changed {
		b.logger.Debug("failure count reset")
	}
	if wasOpen {
		b.notify(StateOpen, StateClosed)
	}
}

func (b *breaker) RecordFailure() {
	now := time.Now()

	b.mu.Lock()
	wasOpen := b.openLocked(now)
	b.failureCount++
	b.lastFailureAt = now
	isOpen := b.openLocked(now)
	count := b.failureCount
	b.mu.Unlock()

	if !wasOpen && isOpen {
		b.logger.Warn("circuit opened",
			zap.Int("failures", count),
			zap.Duration("recovery_timeout", b.cfg.RecoveryTimeout),
		)
		b.notify(StateClosed, StateOpen)
	}
}

func (b *breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return types.NewCircuitOpenError(b.name)
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openLocked(time.Now()) {
		return StateOpen
	}
	return StateClosed
}

func (b *breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

func (b *breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
