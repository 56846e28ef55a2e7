package hook

import (
	"context"
	"errors"
)

// Func is a hook that calls functions before and after processing the value T.
type Func[T any, R any] struct {
	// If BeforeFn is nil, it is not called.
	BeforeFn func(context.Context, T) (R, error)

	// If AfterFn is nil, it is not called.
	AfterFn func(context.Context, T) error
}

func (f Func[T, R]) Before(ctx context.Context, value T) (R, error) {
	if f.BeforeFn == nil {
		return *new(R), nil
	}
	ret, err := f.BeforeFn(ctx, value)
	if err != nil {
		return ret, errors.Join(err, ErrHookFailed)
	}
	return ret, nil
}

func (f Func[T, R]) After(ctx context.Context, value T) error {
	if f.AfterFn == nil {
		return nil
	}
	if err := f.AfterFn(ctx, value); err != nil {
		return errors.Join(err, ErrHookFailed)
	}
	return nil
}

// None is a hook that does nothing.
type None[T any] struct{}

func (None[T]) Before(context.Context, T) (struct{}, error) {
	return struct{}{}, nil
}

func (None[T]) After(context.Context, T) error {
	return nil
}
