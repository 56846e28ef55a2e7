package schema

import (
	"cmp"
	"context"
	"embed"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	kpool "github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/pool"
)

//go:embed versions
var repository embed.FS

type version struct {
	Version int
	Root    string
}

func (v version) Apply(ctx context.Context, conn kpool.Queryer) error {
	return fs.WalkDir(repository, v.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".sql") {
			return nil
		}
		query, err := repository.ReadFile(p)
		if err != nil {
			return err
		}
		_, err = conn.Exec(ctx, string(query))
		return err
	})
}

// Version returns the schema version applied to the database.
//
// It is 0 for a database without schema.
func Version(ctx context.Context, conn kpool.Queryer) (int, error) {
	var exists bool
	if err := conn.QueryRow(
		ctx, `select to_regclass('"schema_version"') is not null`,
	).Scan(&exists); err != nil {
		return -1, err
	}
	if !exists {
		return 0, nil
	}

	var ver *int
	if err := conn.QueryRow(
		ctx, `select max("version") from "schema_version"`,
	).Scan(&ver); err != nil {
		return -1, err
	}
	if ver == nil {
		return 0, nil
	}
	return *ver, nil
}

// Upgrade applies the schema versions newer than the database's, in a transaction.
func Upgrade(ctx context.Context, pool kpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// serialize concurrent upgrades.
	if _, err := tx.Exec(ctx, `select pg_advisory_xact_lock(hashtext('schema_version'))`); err != nil {
		return err
	}

	vs, err := versions()
	if err != nil {
		return err
	}

	current, err := Version(ctx, tx)
	if err != nil {
		return err
	}

	for _, v := range vs {
		if v.Version <= current {
			continue
		}
		if err := v.Apply(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `delete from "schema_version"`); err != nil {
			return err
		}
		if _, err := tx.Exec(
			ctx, `insert into "schema_version" ("version") values ($1)`, v.Version,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Latest returns the newest schema version known.
func Latest() (int, error) {
	vs, err := versions()
	if err != nil {
		return -1, err
	}
	if len(vs) == 0 {
		return 0, nil
	}
	return vs[len(vs)-1].Version, nil
}

func versions() ([]version, error) {
	entries, err := repository.ReadDir("versions")
	if err != nil {
		return nil, err
	}

	vs := make([]version, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		vs = append(vs, version{Version: v, Root: path.Join("versions", entry.Name())})
	}
	slices.SortFunc(vs, func(i, j version) int { return cmp.Compare(i.Version, j.Version) })
	return vs, nil
}
