package reliability

import (
	"context"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"
	"callpulse/pkg/circuitbreaker"
	"callpulse/pkg/retry"

	"go.uber.org/zap"
)

// StatsProviderWrapper wraps a StatsProvider with per-attempt timeouts,
// retries and a circuit breaker. A full retried snapshot counts as one
// breaker outcome.
type StatsProviderWrapper struct {
	provider ports.StatsProvider
	logger   *zap.SugaredLogger

	retryConfig    retry.Config
	attemptTimeout time.Duration
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewStatsProviderWrapper creates a new wrapper with retry and circuit breaker.
// attemptTimeout <= 0 leaves each attempt bounded only by the caller's context.
func NewStatsProviderWrapper(
	provider ports.StatsProvider,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	attemptTimeout time.Duration,
	logger *zap.SugaredLogger,
) *StatsProviderWrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	// an open breaker will not close by retrying against it
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors, circuitbreaker.ErrOpen)

	w := &StatsProviderWrapper{
		provider:       provider,
		logger:         logger,
		retryConfig:    retryConfig,
		attemptTimeout: attemptTimeout,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("stats provider circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func (w *StatsProviderWrapper) Snapshot(ctx context.Context) (*domain.MetricSample, error) {
	return circuitbreaker.ExecuteWithResult(ctx, w.circuitBreaker, func(ctx context.Context) (*domain.MetricSample, error) {
		return retry.RetryWithResult(ctx, w.retryConfig, func() (*domain.MetricSample, error) {
			return w.attempt(ctx)
		})
	})
}

func (w *StatsProviderWrapper) attempt(ctx context.Context) (*domain.MetricSample, error) {
	if w.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.attemptTimeout)
		defer cancel()
	}
	sample, err := w.provider.Snapshot(ctx)
	if err != nil {
		w.logger.Debugw("stats snapshot attempt failed", "error", err)
	}
	return sample, err
}

// BreakerState exposes the breaker for health reporting.
func (w *StatsProviderWrapper) BreakerState() circuitbreaker.State {
	return w.circuitBreaker.GetState()
}

var _ ports.StatsProvider = (*StatsProviderWrapper)(nil)
