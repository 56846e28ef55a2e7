package testenv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	kpool "github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/pool"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// EnvDatabase names the environment variable holding a connection string for tests.
const EnvDatabase = "CD4ML_TEST_DATABASE"

// PoolBroaker gives pools for tests.
type PoolBroaker interface {
	// GetPool returns a pool on a new empty schema.
	//
	// The schema is dropped after t.
	GetPool(ctx context.Context, t *testing.T) kpool.Pool
}

type pg struct {
	uri string
}

// NewPoolBroaker returns a PoolBroaker, or skips t when EnvDatabase is not set.
func NewPoolBroaker(t *testing.T) PoolBroaker {
	t.Helper()
	uri := os.Getenv(EnvDatabase)
	if uri == "" {
		t.Skipf("%s is not set", EnvDatabase)
	}
	return &pg{uri: uri}
}

func (p *pg) GetPool(ctx context.Context, t *testing.T) kpool.Pool {
	t.Helper()

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgx.Connect(ctx, p.uri)
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close(ctx)
	if _, err := admin.Exec(ctx, fmt.Sprintf(`create schema %q`, schema)); err != nil {
		t.Fatal(err)
	}

	conf, err := pgxpool.ParseConfig(p.uri)
	if err != nil {
		t.Fatal(err)
	}
	conf.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.ConnectConfig(ctx, conf)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		pool.Close()
		ctx := context.Background()
		admin, err := pgx.Connect(ctx, p.uri)
		if err != nil {
			t.Logf("fail to drop schema %s: %v", schema, err)
			return
		}
		defer admin.Close(ctx)
		if _, err := admin.Exec(ctx, fmt.Sprintf(`drop schema %q cascade`, schema)); err != nil {
			t.Logf("fail to drop schema %s: %v", schema, err)
		}
	})

	return kpool.Wrap(pool)
}
