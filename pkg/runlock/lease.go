package runlock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/pointer"
)

// ErrNotHeld means the lock has been released or taken over by another.
var ErrNotHeld = errors.New("lock is not held")

// Lease is a Locker with a coordination.k8s.io/v1 Lease.
//
// A Lease whose holder has not renewed it within its duration is expired, and
// can be taken by others. A held Lease is renewed until it is unlocked.
type Lease struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string

	// Holder identifies this process. It should be unique among competitors.
	Holder   string
	Duration time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

var _ Locker = &Lease{}

func (l *Lease) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *Lease) logger() *log.Logger {
	if l.Logger == nil {
		return logs.Discard()
	}
	return l.Logger
}

func (l *Lease) seconds() *int32 {
	s := int32(l.Duration / time.Second)
	if s < 1 {
		s = 1
	}
	return pointer.Ref(s)
}

// Expired reports whether lease is free to take at now.
func Expired(lease *coordinationv1.Lease, now time.Time) bool {
	spec := lease.Spec
	if spec.HolderIdentity == nil || *spec.HolderIdentity == "" {
		return true
	}
	if spec.RenewTime == nil || spec.LeaseDurationSeconds == nil {
		return true
	}
	until := spec.RenewTime.Add(time.Duration(*spec.LeaseDurationSeconds) * time.Second)
	return !now.Before(until)
}

func (l *Lease) TryLock(ctx context.Context) (Lock, error) {
	leases := l.Client.CoordinationV1().Leases(l.Namespace)
	now := metav1.NewMicroTime(l.now())

	current, err := leases.Get(ctx, l.Name, metav1.GetOptions{})
	if kubeerr.IsNotFound(err) {
		_, err := leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: l.Name, Namespace: l.Namespace},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       pointer.Ref(l.Holder),
				LeaseDurationSeconds: l.seconds(),
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}, metav1.CreateOptions{})
		if kubeerr.IsAlreadyExists(err) {
			return nil, ErrLocked
		} else if err != nil {
			return nil, xe.Wrap(err)
		}
		return l.held(), nil
	} else if err != nil {
		return nil, xe.Wrap(err)
	}

	if !Expired(current, now.Time) {
		if *current.Spec.HolderIdentity != l.Holder {
			return nil, ErrLocked
		}
		// a lease of this holder left by a previous life of this process.
	}

	next := current.DeepCopy()
	next.Spec.HolderIdentity = pointer.Ref(l.Holder)
	next.Spec.LeaseDurationSeconds = l.seconds()
	next.Spec.AcquireTime = &now
	next.Spec.RenewTime = &now
	next.Spec.LeaseTransitions = pointer.Ref(pointer.SafeDeref(next.Spec.LeaseTransitions) + 1)
	if _, err := leases.Update(ctx, next, metav1.UpdateOptions{}); kubeerr.IsConflict(err) {
		return nil, ErrLocked
	} else if err != nil {
		return nil, xe.Wrap(err)
	}
	return l.held(), nil
}

func (l *Lease) held() *leaseLock {
	ctx, cancel := context.WithCancel(context.Background())
	ll := &leaseLock{lease: l, cancel: cancel, done: make(chan struct{})}
	go ll.renew(ctx)
	return ll
}

type leaseLock struct {
	lease  *Lease
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (ll *leaseLock) renew(ctx context.Context) {
	defer close(ll.done)
	interval := ll.lease.Duration / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := ll.update(ctx, func(spec *coordinationv1.LeaseSpec) {
			now := metav1.NewMicroTime(ll.lease.now())
			spec.RenewTime = &now
		}); err != nil && ctx.Err() == nil {
			ll.lease.logger().Printf("failed to renew lease %s/%s: %s", ll.lease.Namespace, ll.lease.Name, err)
		}
	}
}

// update modifies the lease when this holder still has it.
func (ll *leaseLock) update(ctx context.Context, modify func(*coordinationv1.LeaseSpec)) error {
	leases := ll.lease.Client.CoordinationV1().Leases(ll.lease.Namespace)
	current, err := leases.Get(ctx, ll.lease.Name, metav1.GetOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	if h := current.Spec.HolderIdentity; h == nil || *h != ll.lease.Holder {
		return fmt.Errorf("%w: lease %s/%s is held by %v", ErrNotHeld, ll.lease.Namespace, ll.lease.Name, h)
	}
	next := current.DeepCopy()
	modify(&next.Spec)
	if _, err := leases.Update(ctx, next, metav1.UpdateOptions{}); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (ll *leaseLock) Unlock(ctx context.Context) error {
	var err error
	ll.once.Do(func() {
		ll.cancel()
		<-ll.done
		err = ll.update(ctx, func(spec *coordinationv1.LeaseSpec) {
			spec.HolderIdentity = nil
			spec.AcquireTime = nil
			spec.RenewTime = nil
		})
	})
	return err
}
