package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	kpool "github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/pool"
	"github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/scanner"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/jackc/pgx/v4"
)

type modelsPG struct {
	*Registry
}

type versionRow struct {
	Name      string    `sql:"name"`
	Version   int       `sql:"version"`
	RunId     string    `sql:"run_id"`
	Source    string    `sql:"source"`
	Stage     string    `sql:"stage"`
	CreatedAt time.Time `sql:"created_at"`
	UpdatedAt time.Time `sql:"updated_at"`
}

func (v versionRow) toDomain() (domain.ModelVersion, error) {
	stage, err := domain.AsModelStage(v.Stage)
	if err != nil {
		return domain.ModelVersion{}, err
	}
	return domain.ModelVersion{
		Name:      v.Name,
		Version:   v.Version,
		RunID:     v.RunId,
		Source:    v.Source,
		Stage:     stage,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}, nil
}

const versionColumns = `"name", "version", "run_id", "source", "stage", "created_at", "updated_at"`

func missingVersion(name string, version int) error {
	return domain.Missing{Table: "model_version", Identity: fmt.Sprintf("%s/%d", name, version)}
}

func (m *modelsPG) RegisterModelVersion(ctx context.Context, name string, runId string, source string) (domain.ModelVersion, error) {
	if name == "" {
		return domain.ModelVersion{}, fmt.Errorf("model name is empty")
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var one int
	if err := tx.QueryRow(
		ctx, `select 1 from "run" where "run_id" = $1`, runId,
	).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ModelVersion{}, missingRun(runId)
		}
		return domain.ModelVersion{}, xe.Wrap(err)
	}

	if _, err := tx.Exec(
		ctx,
		`insert into "registered_model" ("name") values ($1) on conflict ("name") do nothing`,
		name,
	); err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	// numbering versions is serialized per model.
	if _, err := tx.Exec(
		ctx, `select "name" from "registered_model" where "name" = $1 for update`, name,
	); err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}

	now := m.clock()
	rows, err := scanner.New[versionRow]().QueryAll(
		ctx, tx,
		`insert into "model_version" ("name", "version", "run_id", "source", "stage", "created_at", "updated_at")
		select $1, coalesce(max("version"), 0) + 1, $2, $3, $4, $5, $5
		from "model_version" where "name" = $1
		returning `+versionColumns,
		name, runId, source, string(domain.StageNone), now,
	)
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	if len(rows) != 1 {
		return domain.ModelVersion{}, fmt.Errorf("model version is not registered: %s", name)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return rows[0].toDomain()
}

func (m *modelsPG) VersionsByStage(ctx context.Context, name string, stages ...domain.ModelStage) ([]domain.ModelVersion, error) {
	var rows []versionRow
	var err error
	if len(stages) == 0 {
		rows, err = scanner.New[versionRow]().QueryAll(
			ctx, m.pool,
			`select `+versionColumns+` from "model_version" where "name" = $1 order by "version"`,
			name,
		)
	} else {
		names := make([]string, len(stages))
		for i, s := range stages {
			names[i] = string(s)
		}
		rows, err = scanner.New[versionRow]().QueryAll(
			ctx, m.pool,
			`select `+versionColumns+` from "model_version"
			where "name" = $1 and "stage" = any($2) order by "version"`,
			name, names,
		)
	}
	if err != nil {
		return nil, xe.Wrap(err)
	}

	ret := make([]domain.ModelVersion, 0, len(rows))
	for _, row := range rows {
		mv, err := row.toDomain()
		if err != nil {
			return nil, xe.Wrap(err)
		}
		ret = append(ret, mv)
	}
	return ret, nil
}

func (m *modelsPG) GetModelVersion(ctx context.Context, name string, version int) (domain.ModelVersion, error) {
	return getVersion(ctx, m.pool, name, version, false)
}

func getVersion(ctx context.Context, conn kpool.Queryer, name string, version int, forUpdate bool) (domain.ModelVersion, error) {
	q := `select ` + versionColumns + ` from "model_version" where "name" = $1 and "version" = $2`
	if forUpdate {
		q += ` for update`
	}
	rows, err := scanner.New[versionRow]().QueryAll(ctx, conn, q, name, version)
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.ModelVersion{}, missingVersion(name, version)
	}
	return rows[0].toDomain()
}

func (m *modelsPG) TransitionStage(ctx context.Context, name string, version int, stage domain.ModelStage) (domain.ModelVersion, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := getVersion(ctx, tx, name, version, true)
	if err != nil {
		return domain.ModelVersion{}, err
	}
	if current.Stage == stage {
		return current, nil
	}
	if !domain.CanTransit(current.Stage, stage) {
		return domain.ModelVersion{}, domain.NewErrInvalidStageTransition(current.Stage, stage)
	}

	rows, err := scanner.New[versionRow]().QueryAll(
		ctx, tx,
		`update "model_version" set "stage" = $3, "updated_at" = $4
		where "name" = $1 and "version" = $2
		returning `+versionColumns,
		name, version, string(stage), m.clock(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ModelVersion{}, fmt.Errorf(
				"%w: %s has a Production version already",
				domain.NewErrInvalidStageTransition(current.Stage, stage), name,
			)
		}
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	if len(rows) != 1 {
		return domain.ModelVersion{}, missingVersion(name, version)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return rows[0].toDomain()
}
