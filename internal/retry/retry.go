// README: Bounded retry with exponential backoff for optimistic-lock conflicts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
	// RetryOn lists the errors worth retrying; everything else surfaces immediately.
	RetryOn []error
}

func DefaultConfig(retryOn ...error) Config {
	return Config{
		MaxAttempts:     4,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0.2,
		RetryOn:         retryOn,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or exhausts
// the attempt budget. The last error is returned unwrapped so callers can
// still match sentinels with errors.Is.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr, cfg.RetryOn) || attempt == cfg.MaxAttempts {
			return lastErr
		}
		select {
		case <-time.After(cfg.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (cfg Config) backoff(attempt int) time.Duration {
	d := float64(cfg.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= cfg.Multiplier
	}
	if cfg.JitterFactor > 0 {
		d += rand.Float64() * cfg.JitterFactor * d
	}
	if max := float64(cfg.MaxInterval); d > max {
		d = max
	}
	return time.Duration(d)
}

func retryable(err error, retryOn []error) bool {
	if len(retryOn) == 0 {
		return true
	}
	for _, target := range retryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
