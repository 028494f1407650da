package exporter

import (
	"context"
	"time"
)

// runEvery calls fn, waits interval, and repeats until ctx is cancelled. The
// wait starts only after fn returns, so passes never overlap.
func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	for {
		fn(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
