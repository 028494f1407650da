package retry

import (
	"context"
	"fmt"
	"time"
)

// Backoff returns the delay to wait after the given failed attempt
// (1-indexed).
type Backoff func(attempt int) time.Duration

// Constant waits d after every failure.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Quadratic waits base·attempt², capped at max when max > 0.
//
//	attempt 1 fails → wait 1×base
//	attempt 2 fails → wait 4×base
//	attempt 3 fails → wait 9×base
func Quadratic(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base * time.Duration(attempt*attempt)
		if max > 0 && (d > max || d < 0) {
			return max
		}
		return d
	}
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	// Zero or less means retry until ctx is cancelled.
	MaxAttempts int
	// Backoff computes the wait between attempts. Defaults to Constant(time.Second).
	Backoff Backoff
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Do calls fn until it returns nil, cfg.MaxAttempts is reached, or ctx is
// cancelled. Returns nil on success, the last error after all attempts, or
// the context error wrapped with the attempt count.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = Constant(time.Second)
	}

	var lastErr error
	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// Last attempt — no delay, just return the error.
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}

// Forever calls fn until ctx is cancelled, waiting backoff between calls.
// When fn returns nil the attempt counter restarts, so the next wait is the
// first backoff step again; onErr is only called for failures.
func Forever(ctx context.Context, backoff Backoff, onErr func(attempt int, err error), fn func(ctx context.Context) error) {
	if backoff == nil {
		backoff = Constant(time.Second)
	}
	attempt := 0
	for ctx.Err() == nil {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
		} else {
			attempt++
			if onErr != nil {
				onErr(attempt, err)
			}
		}

		timer := time.NewTimer(backoff(max(attempt, 1)))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
