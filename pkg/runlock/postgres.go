package runlock

import (
	"context"
	"sync"

	kpool "github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/pool"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

// Postgres is a Locker with a session-level advisory lock.
//
// The lock lives on a connection taken from Pool, and is released when the
// connection is closed, even if the process dies without unlocking.
type Postgres struct {
	Pool kpool.Pool
	Name string
}

var _ Locker = &Postgres{}

func (p *Postgres) TryLock(ctx context.Context) (Lock, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	var locked bool
	if err := conn.QueryRow(
		ctx, `select pg_try_advisory_lock(hashtext($1))`, p.Name,
	).Scan(&locked); err != nil {
		conn.Release()
		return nil, xe.Wrap(err)
	}
	if !locked {
		conn.Release()
		return nil, ErrLocked
	}
	return &pgLock{conn: conn, name: p.Name}, nil
}

type pgLock struct {
	mu   sync.Mutex
	conn kpool.Conn
	name string
}

func (l *pgLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Release()

	var unlocked bool
	if err := conn.QueryRow(
		ctx, `select pg_advisory_unlock(hashtext($1))`, l.name,
	).Scan(&unlocked); err != nil {
		return xe.Wrap(err)
	}
	if !unlocked {
		return xe.Wrap(ErrNotHeld)
	}
	return nil
}
