package bybit

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// retryConfig bounds the backoff loop used for read calls. Order
// placement is never retried here; a failed order is reported to the
// engine and a later tick decides whether to try again.
type retryConfig struct {
	maxAttempts   int
	initialDelay  time.Duration
	maxDelay      time.Duration
	backoffFactor float64
	jitter        bool
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:   3,
		initialDelay:  500 * time.Millisecond,
		maxDelay:      10 * time.Second,
		backoffFactor: 2.0,
		jitter:        true,
	}
}

// withRetry runs fn up to cfg.maxAttempts times, backing off between
// attempts. Only retryable gateway errors are tried again; rejections
// and decode failures are returned immediately.
func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !broker.IsRetryableError(err) {
			return err
		}
		if attempt == cfg.maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(attempt, cfg)):
		}
	}

	return lastErr
}

// backoffDelay computes the wait before retry attempt+1, exponential
// with an optional +/-10% jitter, capped at maxDelay.
func backoffDelay(attempt int, cfg retryConfig) time.Duration {
	delay := time.Duration(float64(cfg.initialDelay) * math.Pow(cfg.backoffFactor, float64(attempt)))
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	if cfg.jitter {
		delay += time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	}
	return delay
}
