package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds retry configuration
type Config struct {
	Enabled            bool
	MaxAttempts        int           // retries after the first call
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	Multiplier         float64
	Jitter             bool    // randomize each delay by ±25%
	NonRetryableErrors []error // matched with errors.Is
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes fn with exponential backoff.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes fn with exponential backoff and returns its
// first successful result.
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	if !cfg.Enabled {
		return fn()
	}

	attempts := 0
	permanent := false
	result, err := backoff.RetryWithData(func() (T, error) {
		attempts++
		result, err := fn()
		if err != nil && isNonRetryable(err, cfg.NonRetryableErrors) {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		return result, err
	}, NewBackOff(ctx, cfg))

	switch {
	case err == nil:
		return result, nil
	case permanent:
		return zero, fmt.Errorf("non-retryable error: %w", err)
	case ctx.Err() != nil:
		return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempts, ctx.Err())
	default:
		return zero, fmt.Errorf("max attempts (%d) exceeded: %w", attempts, err)
	}
}

// NewBackOff builds the backoff policy described by cfg, bound to ctx.
func NewBackOff(ctx context.Context, cfg Config) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if cfg.Jitter {
		b.RandomizationFactor = 0.25
	}
	b.Reset()

	retries := cfg.MaxAttempts
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func isNonRetryable(err error, nonRetryable []error) bool {
	for _, target := range nonRetryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
