// Package retry implements the retry policy for backend calls: exponential
// backoff with jitter, a hard delay cap, and immediate abort on terminal
// error classes.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/types"
)

// Config holds retry policy settings.
type Config struct {
	// MaxAttempts counts the first call, so 4 means one call plus three
	// retries.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps any single backoff delay.
	MaxDelay time.Duration
	// OnRetry is invoked before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the default retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Retryer executes operations under the retry policy.
type Retryer interface {
	// Do runs op until it succeeds, a terminal error occurs, attempts are
	// exhausted, or ctx is done. The last error is surfaced on exhaustion.
	Do(ctx context.Context, op func(context.Context) error) error
}

type retryer struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New creates a retryer.
func New(cfg Config, logger *zap.Logger) Retryer {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "retry")),
		sleep:  sleepCtx,
	}
}

func (r *retryer) Do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.delayBefore(attempt)
			r.logger.Debug("retrying operation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.cfg.OnRetry != nil {
				r.cfg.OnRetry(attempt, lastErr, delay)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// delayBefore computes the backoff taken before the given attempt (>= 2):
// min(base * 2^(retry-1) + jitter, cap) with jitter uniform in
// [0, 0.1 * exponential delay).
func (r *retryer) delayBefore(attempt int) time.Duration {
	exp := r.cfg.BaseDelay
	for i := 0; i < attempt-2; i++ {
		exp *= 2
		if exp >= r.cfg.MaxDelay {
			exp = r.cfg.MaxDelay
			break
		}
	}

	jitter := time.Duration(rand.Float64() * 0.1 * float64(exp))
	delay := exp + jitter
	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	return delay
}

// isRetryable classifies errors: terminal taxonomy codes and context errors
// abort immediately, everything else is worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *types.Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoValue runs op under the retryer and returns its value.
func DoValue[T any](ctx context.Context, r Retryer, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	return out, err
}
