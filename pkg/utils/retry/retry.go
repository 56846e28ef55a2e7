package retry

import (
	"context"
	"time"
)

// Backoff blocks until the next attempt may start.
//
// It returns ctx.Err() when ctx is done before that, and nil otherwise.
type Backoff func(context.Context) error

// StaticBackoff waits for interval on every call.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff waits for initialInterval on the first call,
// and r times longer than the previous wait on each following call.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			return nil
		}
	}
}
