// Package postgres is a registry on PostgreSQL.
//
// Runs and model versions live in tables. Artifacts are left to a registry.Artifacts.
// The database refuses a second Production version of a model by a partial unique index.
package postgres

import (
	"context"
	"errors"
	"time"

	kpool "github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/pool"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/db/postgres/schema"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

type Registry struct {
	pool      kpool.Pool
	artifacts registry.Artifacts
	now       func() time.Time
	onClose   func()
}

var _ registry.Registry = &Registry{}

type Option func(*Registry) *Registry

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) *Registry {
		r.now = now
		return r
	}
}

// New returns a Registry on pool. The schema should be upgraded already.
//
// Close does not close pool.
func New(pool kpool.Pool, artifacts registry.Artifacts, options ...Option) *Registry {
	r := &Registry{
		pool:      pool,
		artifacts: artifacts,
		now:       time.Now,
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

// Connect opens a pool to uri, upgrades its schema and returns a Registry on it.
//
// Close closes the pool.
func Connect(ctx context.Context, uri string, artifacts registry.Artifacts, options ...Option) (*Registry, error) {
	pool, err := kpool.Connect(ctx, uri)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if err := schema.Upgrade(ctx, pool); err != nil {
		pool.Close()
		return nil, xe.Wrap(err)
	}
	r := New(pool, artifacts, options...)
	r.onClose = pool.Close
	return r, nil
}

func (r *Registry) Runs() registry.Runs {
	return &runsPG{r}
}

func (r *Registry) Models() registry.Models {
	return &modelsPG{r}
}

func (r *Registry) Artifacts() registry.Artifacts {
	return r.artifacts
}

func (r *Registry) Close() {
	if r.onClose != nil {
		r.onClose()
	}
}

// timestamps in database are in microseconds.
func (r *Registry) clock() time.Time {
	return r.now().Truncate(time.Microsecond)
}

func pgErrorCode(err error) string {
	if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) {
		return pgerr.Code
	}
	return ""
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgerrcode.ForeignKeyViolation
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgerrcode.UniqueViolation
}

func missingRun(runId string) error {
	return domain.Missing{Table: "run", Identity: runId}
}
