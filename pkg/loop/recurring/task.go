package recurring

import (
	"context"

	"github.com/AlexandreManai/ML-pipeline/pkg/loop"
)

// Task is a loop body whose continuation is decided by a Policy.
//
// Return:
//
// - T : same as return value T of loop.Task[T]
//
// - error : an error of this cycle. Policy decides whether it breaks the loop.
type Task[T any] func(context.Context, T) (T, error)

// Applied is a loop.Task which executes rt and asks p what to do next.
func (rt Task[T]) Applied(p Policy) loop.Task[T] {
	return func(ctx context.Context, t T) (T, loop.Next) {
		v, err := rt(ctx, t)
		return v, p.Next(err)
	}
}
