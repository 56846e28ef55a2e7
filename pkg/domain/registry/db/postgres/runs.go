package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/conn/db/postgres/scanner"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

type runsPG struct {
	*Registry
}

type runRow struct {
	RunId       string             `sql:"run_id"`
	Experiment  string             `sql:"experiment"`
	Status      string             `sql:"status"`
	StartTime   time.Time          `sql:"start_time"`
	EndTime     pgtype.Timestamptz `sql:"end_time"`
	ArtifactUri string             `sql:"artifact_uri"`
}

type keyValue struct {
	Key   string `sql:"key"`
	Value string `sql:"value"`
}

type metricRow struct {
	Key   string        `sql:"key"`
	Value pgtype.Float8 `sql:"value"`
}

func (r *runsPG) StartRun(ctx context.Context, experiment string, tags map[string]string) (domain.ExperimentRun, error) {
	if experiment == "" {
		return domain.ExperimentRun{}, fmt.Errorf("experiment name is empty")
	}

	runId := uuid.NewString()
	root, err := r.artifacts.ArtifactURI(ctx, runId, "")
	if err != nil {
		return domain.ExperimentRun{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`insert into "experiment" ("experiment_id", "name") values ($1, $2)
		on conflict ("name") do nothing`,
		uuid.NewString(), experiment,
	); err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}

	var experimentId string
	if err := tx.QueryRow(
		ctx, `select "experiment_id" from "experiment" where "name" = $1`, experiment,
	).Scan(&experimentId); err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}

	started := r.clock()
	if _, err := tx.Exec(
		ctx,
		`insert into "run" ("run_id", "experiment_id", "status", "start_time", "artifact_uri")
		values ($1, $2, $3, $4, $5)`,
		runId, experimentId, string(domain.RunRunning), started, root,
	); err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}

	copied := map[string]string{}
	for k, v := range tags {
		if _, err := tx.Exec(
			ctx,
			`insert into "run_tag" ("run_id", "key", "value") values ($1, $2, $3)`,
			runId, k, v,
		); err != nil {
			return domain.ExperimentRun{}, xe.Wrap(err)
		}
		copied[k] = v
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}

	return domain.ExperimentRun{
		RunID:       runId,
		Experiment:  experiment,
		Status:      domain.RunRunning,
		StartTime:   started,
		Params:      map[string]string{},
		Metrics:     map[string]float64{},
		Tags:        copied,
		ArtifactURI: root,
	}, nil
}

func (r *runsPG) EndRun(ctx context.Context, runId string, status domain.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var current string
	if err := tx.QueryRow(
		ctx, `select "status" from "run" where "run_id" = $1 for update`, runId,
	).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return missingRun(runId)
		}
		return xe.Wrap(err)
	}
	if domain.RunStatus(current).Terminal() {
		return nil
	}

	if _, err := tx.Exec(
		ctx,
		`update "run" set "status" = $2, "end_time" = $3 where "run_id" = $1`,
		runId, string(status), r.clock(),
	); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(tx.Commit(ctx))
}

// LogParams refuses to change a logged value.
func (r *runsPG) LogParams(ctx context.Context, runId string, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if _, err := tx.Exec(
			ctx,
			`insert into "run_param" ("run_id", "key", "value") values ($1, $2, $3)
			on conflict ("run_id", "key") do nothing`,
			runId, k, v,
		); err != nil {
			if isForeignKeyViolation(err) {
				return missingRun(runId)
			}
			return xe.Wrap(err)
		}
		keys = append(keys, k)
	}

	logged, err := scanner.New[keyValue]().QueryAll(
		ctx, tx,
		`select "key", "value" from "run_param" where "run_id" = $1 and "key" = any($2)`,
		runId, keys,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	for _, kv := range logged {
		if kv.Value != params[kv.Key] {
			return fmt.Errorf("param %s of run %s is already logged as %q", kv.Key, runId, kv.Value)
		}
	}

	return xe.Wrap(tx.Commit(ctx))
}

func (r *runsPG) LogMetric(ctx context.Context, runId string, key string, value float64) error {
	v := pgtype.Float8{Float: value, Status: pgtype.Present}
	if math.IsNaN(value) {
		v = pgtype.Float8{Status: pgtype.Null}
	}
	if _, err := r.pool.Exec(
		ctx,
		`insert into "run_metric" ("run_id", "key", "value", "logged_at") values ($1, $2, $3, $4)
		on conflict ("run_id", "key") do update set "value" = excluded."value", "logged_at" = excluded."logged_at"`,
		runId, key, &v, r.clock(),
	); err != nil {
		if isForeignKeyViolation(err) {
			return missingRun(runId)
		}
		return xe.Wrap(err)
	}
	return nil
}

func (r *runsPG) SetTag(ctx context.Context, runId string, key string, value string) error {
	if _, err := r.pool.Exec(
		ctx,
		`insert into "run_tag" ("run_id", "key", "value") values ($1, $2, $3)
		on conflict ("run_id", "key") do update set "value" = excluded."value"`,
		runId, key, value,
	); err != nil {
		if isForeignKeyViolation(err) {
			return missingRun(runId)
		}
		return xe.Wrap(err)
	}
	return nil
}

func (r *runsPG) GetRun(ctx context.Context, runId string) (domain.ExperimentRun, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	defer conn.Release()

	rows, err := scanner.New[runRow]().QueryAll(
		ctx, conn,
		`select "run_id", "e"."name" as "experiment", "status", "start_time", "end_time", "artifact_uri"
		from "run" inner join "experiment" as "e" using ("experiment_id")
		where "run_id" = $1`,
		runId,
	)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.ExperimentRun{}, missingRun(runId)
	}
	row := rows[0]

	status, err := domain.AsRunStatus(row.Status)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	run := domain.ExperimentRun{
		RunID:       row.RunId,
		Experiment:  row.Experiment,
		Status:      status,
		StartTime:   row.StartTime,
		Params:      map[string]string{},
		Metrics:     map[string]float64{},
		Tags:        map[string]string{},
		ArtifactURI: row.ArtifactUri,
	}
	if row.EndTime.Status == pgtype.Present {
		t := row.EndTime.Time
		run.EndTime = &t
	}

	params, err := scanner.New[keyValue]().QueryAll(
		ctx, conn, `select "key", "value" from "run_param" where "run_id" = $1`, runId,
	)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	for _, kv := range params {
		run.Params[kv.Key] = kv.Value
	}

	tags, err := scanner.New[keyValue]().QueryAll(
		ctx, conn, `select "key", "value" from "run_tag" where "run_id" = $1`, runId,
	)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	for _, kv := range tags {
		run.Tags[kv.Key] = kv.Value
	}

	metrics, err := scanner.New[metricRow]().QueryAll(
		ctx, conn, `select "key", "value" from "run_metric" where "run_id" = $1`, runId,
	)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	for _, m := range metrics {
		if m.Value.Status == pgtype.Present {
			run.Metrics[m.Key] = m.Value.Float
		} else {
			run.Metrics[m.Key] = math.NaN()
		}
	}

	return run, nil
}
