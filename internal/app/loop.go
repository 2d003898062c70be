package app

import (
	"context"
	"time"
)

// Every calls fn immediately and then on each interval tick until ctx is
// done. Ticks that arrive while fn is still running are dropped.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if ctx.Err() != nil {
		return nil
	}
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
