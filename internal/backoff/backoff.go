// Package backoff runs an operation with exponential back-off bounded by an
// attempt ceiling, logging and counting every retry.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"streamworker/internal/logging"
	"streamworker/internal/telemetry"
)

// Config contains tunables for exponential back-off.
// Zero values are replaced with defaults.
type Config struct {
	InitialInterval     time.Duration `koanf:"initial_interval" yaml:"initial_interval"`
	MaxInterval         time.Duration `koanf:"max_interval" yaml:"max_interval"`
	Multiplier          float64       `koanf:"multiplier" yaml:"multiplier"`
	RandomizationFactor float64       `koanf:"randomization_factor" yaml:"randomization_factor"`
	// MaxAttempts counts the first call. 1 disables retries.
	MaxAttempts int `koanf:"max_attempts" yaml:"max_attempts"`
	// MaxElapsedTime bounds all attempts together. Zero means no bound.
	MaxElapsedTime time.Duration `koanf:"max_elapsed_time" yaml:"max_elapsed_time"`
}

func (c *Config) ApplyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

func (c Config) Validate() error {
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("backoff: randomization_factor must be in [0,1], got %v", c.RandomizationFactor)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: multiplier must be >= 1, got %v", c.Multiplier)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("backoff: max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	return nil
}

// RetryableFunc is re-executed until it succeeds, returns a Permanent error,
// or the attempt ceiling is reached.
type RetryableFunc func(ctx context.Context) error

// ErrMaxRetries is returned when fn was still failing after the last attempt.
type ErrMaxRetries struct {
	Err      error
	Attempts int
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempt(s) failed: %v", e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable; Execute returns it unwrapped.
func Permanent(err error) error { return backoff.Permanent(err) }

// Execute runs fn under cfg. op names the operation in logs and metrics.
//
// The returned error is nil, the error of a Permanent failure, ctx.Err() if
// the context ended first, or *ErrMaxRetries.
func Execute(ctx context.Context, op string, cfg Config, fn RetryableFunc) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.Multiplier = cfg.Multiplier
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.MaxElapsedTime = cfg.MaxElapsedTime
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx)

	attempts := 0
	permanent := false
	operation := func() error {
		attempts++
		err := fn(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		telemetry.BackoffRetries.WithLabelValues(op).Inc()
		logging.L().Warn("back-off retry",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	telemetry.BackoffGiveUps.WithLabelValues(op).Inc()
	logging.L().Error("back-off give-up",
		zap.String("op", op),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return &ErrMaxRetries{Err: err, Attempts: attempts}
}
