package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/estimator"
)

// ErrNoSearchResult means search is enabled, but the trainer has no search result.
var ErrNoSearchResult = errors.New("hyperparameter search result is not available")

// Train fits a model and records it as a new run in the experiment registry.
//
// Hyperparameters are trial when `model_training` enables search, otherwise
// the options of `model_training`. The run has the hyperparameters as params,
// fit_duration as a metric, and git_hash as a tag. The model is logged as an
// artifact of the run.
//
// The run is left RUNNING on success, for the gate to log its score. It is
// ended by Finalize.
func (e *Env) Train(ctx context.Context, conf *pipeline.Config, trial domain.TrialResult) (domain.TrainingArtifact, error) {
	logger := e.logger(StageTrain)

	general, err := conf.General(StageTrain)
	if err != nil {
		return domain.TrainingArtifact{}, err
	}
	training, err := conf.ModelTraining(StageTrain)
	if err != nil {
		return domain.TrainingArtifact{}, err
	}

	params := domain.TrialResult(training.Params)
	if training.UseSearch {
		if trial == nil {
			return domain.TrainingArtifact{}, xe.Wrap(ErrNoSearchResult)
		}
		params = trial
	}
	logger.Printf("configuration: %v", params)

	m, err := e.ReadMatrices(StageTrain, domain.TransformedXTrainFile, domain.TransformedYTrainFile)
	if err != nil {
		return domain.TrainingArtifact{}, err
	}

	est, err := e.estimator()(params)
	if err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(err)
	}

	runs := e.Registry.Runs()
	tags := map[string]string{}
	if e.ExecutionID != "" {
		tags[domain.TagExecution] = e.ExecutionID
	}
	run, err := runs.StartRun(ctx, general.ExperimentName, tags)
	if err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(err)
	}

	artifact, err := e.train(ctx, run.RunID, est, params, m)
	if err != nil {
		if eerr := runs.EndRun(context.WithoutCancel(ctx), run.RunID, domain.RunFailed); eerr != nil {
			logger.Printf("failed to end run %s: %s", run.RunID, eerr)
		}
		return domain.TrainingArtifact{}, err
	}
	logger.Printf("trained: run %s, model %s", artifact.RunID, artifact.ModelURI)
	return artifact, nil
}

func (e *Env) train(
	ctx context.Context, runId string, est estimator.Estimator, params domain.TrialResult, m Matrices,
) (domain.TrainingArtifact, error) {
	logger := e.logger(StageTrain)
	runs := e.Registry.Runs()

	rev := e.Git.Revision(ctx, logger)
	if err := runs.SetTag(ctx, runId, domain.TagGitHash, rev); err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(err)
	}
	if err := runs.LogParams(ctx, runId, params.Strings()); err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(err)
	}

	start := time.Now()
	model, err := est.Fit(ctx, m.XTrain, m.YTrain)
	if err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(err)
	}
	took := time.Since(start)
	logger.Printf("fitted in %s", took)
	if err := runs.LogMetric(ctx, runId, domain.MetricFitDuration, took.Seconds()); err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(err)
	}

	buf := new(bytes.Buffer)
	if err := estimator.Save(buf, model); err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(fmt.Errorf("saving model: %w", err))
	}
	uri, err := e.Registry.Artifacts().LogArtifact(ctx, runId, domain.ModelArtifactPath, buf)
	if err != nil {
		return domain.TrainingArtifact{}, xe.Wrap(err)
	}
	return domain.TrainingArtifact{RunID: runId, ModelURI: uri}, nil
}
