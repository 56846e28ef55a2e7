package mlflow

import (
	"context"
	"fmt"
	"math"
	"net/url"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

type runs struct {
	*Registry
}

// experimentId finds or creates the experiment named name.
func (r *runs) experimentId(ctx context.Context, name string) (string, error) {
	found, err := get[getExperimentResponse](
		ctx, r.client, "experiments/get-by-name", url.Values{"experiment_name": {name}},
	)
	if err == nil {
		return found.Experiment.ExperimentId, nil
	}
	if !hasErrorCode(err, ResourceDoesNotExist) {
		return "", err
	}

	created, err := post[createExperimentResponse](
		ctx, r.client, "experiments/create", createExperimentRequest{Name: name},
	)
	if err == nil {
		return created.ExperimentId, nil
	}
	if !hasErrorCode(err, ResourceAlreadyExists) {
		return "", err
	}

	// created concurrently
	found, err = get[getExperimentResponse](
		ctx, r.client, "experiments/get-by-name", url.Values{"experiment_name": {name}},
	)
	if err != nil {
		return "", err
	}
	return found.Experiment.ExperimentId, nil
}

func (r *runs) StartRun(ctx context.Context, experiment string, tags map[string]string) (domain.ExperimentRun, error) {
	if experiment == "" {
		return domain.ExperimentRun{}, fmt.Errorf("experiment name is empty")
	}
	expId, err := r.experimentId(ctx, experiment)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}

	req := createRunRequest{ExperimentId: expId, StartTime: millis(r.now())}
	for k, v := range tags {
		req.Tags = append(req.Tags, keyValue{Key: k, Value: v})
	}
	created, err := post[runResponse](ctx, r.client, "runs/create", req)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	return toExperimentRun(created.Run, experiment)
}

func (r *runs) getRun(ctx context.Context, runId string) (run, error) {
	resp, err := get[runResponse](ctx, r.client, "runs/get", url.Values{"run_id": {runId}})
	if err != nil {
		if hasErrorCode(err, ResourceDoesNotExist) {
			return run{}, domain.Missing{Table: "run", Identity: runId}
		}
		return run{}, xe.Wrap(err)
	}
	return resp.Run, nil
}

func (r *runs) EndRun(ctx context.Context, runId string, status domain.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	current, err := r.getRun(ctx, runId)
	if err != nil {
		return err
	}
	if domain.RunStatus(current.Info.Status).Terminal() {
		return nil
	}
	_, err = post[empty](ctx, r.client, "runs/update", updateRunRequest{
		RunId: runId, Status: string(status), EndTime: millis(r.now()),
	})
	return xe.Wrap(err)
}

func (r *runs) LogParams(ctx context.Context, runId string, params map[string]string) error {
	for k, v := range params {
		if _, err := post[empty](ctx, r.client, "runs/log-parameter", logParamRequest{
			RunId: runId, Key: k, Value: v,
		}); err != nil {
			if hasErrorCode(err, ResourceDoesNotExist) {
				return domain.Missing{Table: "run", Identity: runId}
			}
			return xe.Wrap(err)
		}
	}
	return nil
}

func (r *runs) LogMetric(ctx context.Context, runId string, key string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("metric %s of run %s is not finite: %v", key, runId, value)
	}
	if _, err := post[empty](ctx, r.client, "runs/log-metric", logMetricRequest{
		RunId: runId, Key: key, Value: value, Timestamp: millis(r.now()),
	}); err != nil {
		if hasErrorCode(err, ResourceDoesNotExist) {
			return domain.Missing{Table: "run", Identity: runId}
		}
		return xe.Wrap(err)
	}
	return nil
}

func (r *runs) SetTag(ctx context.Context, runId string, key string, value string) error {
	if _, err := post[empty](ctx, r.client, "runs/set-tag", setTagRequest{
		RunId: runId, Key: key, Value: value,
	}); err != nil {
		if hasErrorCode(err, ResourceDoesNotExist) {
			return domain.Missing{Table: "run", Identity: runId}
		}
		return xe.Wrap(err)
	}
	return nil
}

func (r *runs) GetRun(ctx context.Context, runId string) (domain.ExperimentRun, error) {
	got, err := r.getRun(ctx, runId)
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	exp, err := get[getExperimentResponse](
		ctx, r.client, "experiments/get", url.Values{"experiment_id": {got.Info.ExperimentId}},
	)
	if err != nil {
		return domain.ExperimentRun{}, xe.Wrap(err)
	}
	return toExperimentRun(got, exp.Experiment.Name)
}

func toExperimentRun(r run, experiment string) (domain.ExperimentRun, error) {
	status, err := domain.AsRunStatus(r.Info.Status)
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	ret := domain.ExperimentRun{
		RunID:       r.Info.RunId,
		Experiment:  experiment,
		Status:      status,
		StartTime:   fromMillis(r.Info.StartTime),
		Params:      map[string]string{},
		Metrics:     map[string]float64{},
		Tags:        map[string]string{},
		ArtifactURI: r.Info.ArtifactUri,
	}
	if status.Terminal() && r.Info.EndTime != 0 {
		t := fromMillis(r.Info.EndTime)
		ret.EndTime = &t
	}
	for _, p := range r.Data.Params {
		ret.Params[p.Key] = p.Value
	}
	for _, t := range r.Data.Tags {
		ret.Tags[t.Key] = t.Value
	}

	// the latest of each key
	latest := map[string]metric{}
	for _, m := range r.Data.Metrics {
		if l, ok := latest[m.Key]; !ok || l.Timestamp < m.Timestamp || (l.Timestamp == m.Timestamp && l.Step <= m.Step) {
			latest[m.Key] = m
		}
	}
	for k, m := range latest {
		ret.Metrics[k] = m.Value
	}
	return ret, nil
}
