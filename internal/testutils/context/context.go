package context

import (
	"context"
	"testing"
	"time"
)

// WithTest derives a context which is done 1 second before the deadline of t,
// so that tests can release locks and connections before they time out.
func WithTest(ctx context.Context, t *testing.T) (context.Context, func()) {
	if deadline, ok := t.Deadline(); ok {
		dctx, cancel := context.WithDeadline(ctx, deadline.Add(-time.Second))
		return dctx, cancel
	}
	return ctx, func() {}
}
