package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	MaxTotalTimeout time.Duration

	// Schedule overrides the exponential delays when set. Delay n is
	// Schedule[n-1]; the last entry repeats once the schedule runs out.
	Schedule []time.Duration

	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, nextDelay time.Duration)
}

// DefaultConfig returns a default retry configuration with 1 minute max timeout
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     10,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		BackoffFactor:   2.0,
		MaxTotalTimeout: 60 * time.Second, // 1 minute max
	}
}

// ProviderConfig is the partner API policy: 3 attempts with a progressive,
// capped schedule.
func ProviderConfig() Config {
	return Config{
		MaxAttempts: 3,
		MaxDelay:    10 * time.Second,
		Schedule:    []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second, 10 * time.Second},
	}
}

// Delay returns the wait before attempt+1, given the previous delay.
func (c Config) Delay(attempt int, previous time.Duration) time.Duration {
	var delay time.Duration
	if len(c.Schedule) > 0 {
		idx := attempt - 1
		if idx >= len(c.Schedule) {
			idx = len(c.Schedule) - 1
		}
		if idx < 0 {
			idx = 0
		}
		delay = c.Schedule[idx]
	} else if attempt <= 1 || previous <= 0 {
		delay = c.InitialDelay
	} else {
		factor := c.BackoffFactor
		if factor <= 0 {
			factor = 1
		}
		delay = time.Duration(float64(previous) * factor)
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Do executes the given function with exponential backoff retry logic
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoValue(ctx, cfg, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue runs operation until it succeeds, returns a non-retryable error,
// runs out of attempts or the context is done.
func DoValue[T any](ctx context.Context, cfg Config, operation func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxTotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxTotalTimeout)
		defer cancel()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	var delay time.Duration

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt-1, ctx.Err(), lastErr)
			}
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		default:
		}

		value, err := operation(ctx)
		if err == nil {
			return value, nil
		}

		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		if attempt == maxAttempts {
			return zero, fmt.Errorf("max retry attempts (%d) exceeded: %w", maxAttempts, lastErr)
		}

		delay = cfg.Delay(attempt, delay)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max retry attempts exceeded: %w", lastErr)
}

// DoWithLog executes the function with retry and logs each attempt
func DoWithLog(ctx context.Context, cfg Config, serviceName string, fn func() error, logFn func(attempt int, err error, nextDelay time.Duration)) error {
	cfg.OnRetry = logFn
	if err := Do(ctx, cfg, fn); err != nil {
		return fmt.Errorf("%s: %w", serviceName, err)
	}
	return nil
}
