// Package loop runs a task repeatedly, sleeping between iterations.
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after an iteration.
type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Interval is the wait before the next iteration. It is meaningless when breaking.
func (n Next) Interval() time.Duration {
	return n.interval
}

// Breaking reports whether the loop stops after this iteration.
func (n Next) Breaking() bool {
	return n.quit || n.err != nil
}

// Continue loop after sleeping interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break loop. If err is not nil, Start returns it.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is one iteration.
//
// It receives the value returned by the last iteration (or the initial value),
// and returns a new value and what to do next.
// Zero value of Next equals Continue(0).
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task in loop until it breaks or ctx is done.
//
// Example: run a pipeline daily, stop on the first error.
//
//	Start(ctx, 0, func(ctx context.Context, count int) (int, Next) {
//		if err := run(ctx); err != nil {
//			return count, Break(err)
//		}
//		return count + 1, Continue(24 * time.Hour)
//	})
//
// Returns:
//
// - T: the value task returned at last. It is returned together with non-nil error, too.
//
// - error: error in Break(error), or ctx.Err() when ctx is done.
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		lc := &loopConfig{ctx: ctx}
		for _, opt := range options {
			lc = opt(lc)
		}

		v, n := func() (T, Next) {
			if lc.deferred != nil {
				defer lc.deferred()
			}
			return task(lc.ctx, value)
		}()

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutting down comes first.
			if !timer.Stop() {
				<-timer.C
			}
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

type loopConfig struct {
	ctx      context.Context
	deferred func()
}

type LoopOption func(*loopConfig) *loopConfig

// WithTimeout sets timeout per iteration on the context passed to task.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		ctx, cancel := context.WithTimeout(lc.ctx, d)
		return &loopConfig{
			ctx: ctx,
			deferred: func() {
				if lc.deferred != nil {
					defer lc.deferred()
				}
				cancel()
			},
		}
	}
}
