// Package runlock serialises pipeline executions.
//
// At most one execution holds a lock of a name at a time. Lockers differ in
// how far the exclusion reaches: a process (Local), processes sharing a
// Postgres database (Postgres), or a Kubernetes namespace (Lease).
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked means another execution holds the lock.
var ErrLocked = errors.New("another execution is in flight")

type Locker interface {
	// TryLock takes the lock without waiting.
	//
	// It returns ErrLocked when the lock is held by another.
	TryLock(ctx context.Context) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	// Unlock releases the lock. Calling it twice does nothing.
	Unlock(ctx context.Context) error
}

// Local is a Locker which excludes executions in this process only.
type Local struct {
	mu sync.Mutex
}

var _ Locker = &Local{}

func (l *Local) TryLock(ctx context.Context) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	return &localLock{l: l}, nil
}

type localLock struct {
	once sync.Once
	l    *Local
}

func (ll *localLock) Unlock(context.Context) error {
	ll.once.Do(ll.l.mu.Unlock)
	return nil
}

// Chain takes locks of all lockers in order, or none of them.
type Chain []Locker

var _ Locker = Chain{}

func (c Chain) TryLock(ctx context.Context) (Lock, error) {
	held := chainLock{}
	for _, l := range c {
		lock, err := l.TryLock(ctx)
		if err != nil {
			return nil, errors.Join(err, held.Unlock(context.WithoutCancel(ctx)))
		}
		held = append(held, lock)
	}
	return held, nil
}

type chainLock []Lock

// Unlock releases locks in reverse order.
func (c chainLock) Unlock(ctx context.Context) error {
	var errs []error
	for i := len(c) - 1; 0 <= i; i-- {
		if err := c[i].Unlock(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
