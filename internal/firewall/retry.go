package firewall

import (
	"context"
	"math"
	"math/rand"
	"time"

	"grimm.is/bridgewall/internal/errors"
)

// RetryConfig configures how often a flaky probe is repeated.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// RetryableKinds limits retries to these error kinds. Empty retries everything.
	RetryableKinds []errors.Kind
}

// Retry runs fn until it succeeds, attempts run out or ctx ends.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr, cfg.RetryableKinds) || attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt, cfg)):
		}
	}
	return lastErr
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt))
	if cfg.Jitter {
		delay += delay * 0.25 * rand.Float64()
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

func retryable(err error, kinds []errors.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if errors.HasKind(err, k) {
			return true
		}
	}
	return false
}
