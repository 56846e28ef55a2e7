package stages

import (
	"context"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/estimator"
	"github.com/AlexandreManai/ML-pipeline/pkg/search"
)

// Search tunes hyperparameters over the space in `hyperparameter_optimization`.
//
// Each trial fits on the train split and scores accuracy on the test split.
// When search is disabled in `model_training`, it does nothing and returns nil.
func (e *Env) Search(ctx context.Context, conf *pipeline.Config) (domain.TrialResult, error) {
	logger := e.logger(StageSearch)

	training, err := conf.ModelTraining(StageSearch)
	if err != nil {
		return nil, err
	}
	if !training.UseSearch {
		logger.Printf("hyperparameter search is disabled")
		return nil, nil
	}

	hpo, err := conf.HyperparameterOptimization(StageSearch)
	if err != nil {
		return nil, err
	}
	space, err := search.NewSpace(hpo.Space)
	if err != nil {
		return nil, err
	}
	direction, err := search.ParseDirection(hpo.Direction)
	if err != nil {
		return nil, err
	}

	m, err := e.ReadMatrices(StageSearch)
	if err != nil {
		return nil, err
	}

	factory := e.estimator()
	objective := func(ctx context.Context, params domain.TrialResult) (float64, error) {
		est, err := factory(params)
		if err != nil {
			return 0, err
		}
		model, err := est.Fit(ctx, m.XTrain, m.YTrain)
		if err != nil {
			return 0, err
		}
		return estimator.Accuracy(model, m.XTest, m.YTest)
	}

	study := search.Study{
		Direction: direction,
		NTrials:   hpo.NTrials,
		Seed:      hpo.Seed,
		Logger:    logger,
	}
	result, err := study.Optimize(ctx, space, objective)
	if err != nil {
		return nil, err
	}
	logger.Printf("best params: %v (score %.4f)", result.Best, result.BestScore)
	return result.Best, nil
}
