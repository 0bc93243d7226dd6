package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// retryConfig controls the per-provider retry loop.
type retryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// MinBackoff is the floor applied to the exponential wait.
	MinBackoff time.Duration
	// MaxBackoff caps the exponential wait.
	MaxBackoff time.Duration
	// RetryIf decides whether an error is worth another attempt.
	RetryIf func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

func defaultRetryConfig(log zerolog.Logger, provider string) retryConfig {
	return retryConfig{
		MaxAttempts: 3,
		MinBackoff:  2 * time.Second,
		MaxBackoff:  30 * time.Second,
		RetryIf:     Retryable,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			log.Warn().
				Str("provider", provider).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(err).
				Msg("transient failure, retrying")
		},
	}
}

// withRetry executes fn up to cfg.MaxAttempts times. Only errors accepted by
// cfg.RetryIf trigger another attempt; anything else is terminal for the
// provider and returned immediately. Backoff doubles each retry between
// MinBackoff and MaxBackoff and is slept between attempts, never before the
// first one.
func withRetry(ctx context.Context, cfg retryConfig, fn func() ([]Bar, error)) ([]Bar, error) {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bars, err := fn()
		if err == nil {
			return bars, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return nil, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := backoffFor(attempt, cfg.MinBackoff, cfg.MaxBackoff)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// backoffFor returns 2^(attempt-1) seconds clamped to [min, max].
func backoffFor(attempt int, min, max time.Duration) time.Duration {
	d := time.Second << (attempt - 1)
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}
