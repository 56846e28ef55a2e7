// Package pipeline wires the stages into the training graph and runs it.
//
//	load_config -> data_ingestion -> data_split -> data_validation -> track_data
//	  -> data_transformation -> hyperparameter_optimization -> model_training
//	  -> model_validation -> { push_new_model | keep_old_model }
//
// with additional edges data_split -> data_transformation and
// data_validation -> data_transformation -> model_validation.
// keep_old_model runs whichever branch model_validation takes, and closes the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	cfg_pipeline "github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/estimator"
	"github.com/AlexandreManai/ML-pipeline/pkg/gate"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/orchestration"
	"github.com/AlexandreManai/ML-pipeline/pkg/promotion"
	"github.com/AlexandreManai/ML-pipeline/pkg/search"
	"github.com/AlexandreManai/ML-pipeline/pkg/stages"
)

// Decision is the output of the gate node. It follows one of the branches.
type Decision struct {
	gate.Evaluation
}

func (d Decision) Follow() []string {
	if d.Decision() == domain.Promote {
		return []string{stages.StagePromote}
	}
	return []string{stages.StageKeep}
}

// Pipeline is the training pipeline of one Env.
type Pipeline struct {
	Env *stages.Env

	// ConfigPath is the pipeline configuration document, loaded on each execution.
	ConfigPath string

	Retries    int
	RetryDelay time.Duration

	Logger *log.Logger

	// Observe receives state changes of stages.
	Observe func(orchestration.Event)
}

// Graph builds the graph of stages.
func (p *Pipeline) Graph() (*orchestration.Graph, error) {
	return p.graph(p.Env)
}

// DOT writes the graph in Graphviz DOT language.
func (p *Pipeline) DOT(w io.Writer) error {
	g, err := p.graph(p.Env)
	if err != nil {
		return err
	}
	return g.DOT(w)
}

func (p *Pipeline) graph(env *stages.Env) (*orchestration.Graph, error) {
	conf := func(in orchestration.Inputs) (*cfg_pipeline.Config, error) {
		return orchestration.Input[*cfg_pipeline.Config](in, stages.StageLoadConfig)
	}
	candidate := func(in orchestration.Inputs) (domain.TrainingArtifact, error) {
		return orchestration.Input[domain.TrainingArtifact](in, stages.StageTrain)
	}

	nodes := []orchestration.Node{
		{
			ID: stages.StageLoadConfig,
			Run: func(ctx context.Context, _ orchestration.Inputs) (any, error) {
				c, err := env.LoadConfig(ctx, p.ConfigPath)
				if err != nil && ctx.Err() == nil {
					return nil, orchestration.Permanent(err)
				}
				return c, err
			},
		},
		{
			ID:   stages.StageIngest,
			Deps: []string{stages.StageLoadConfig},
			Run: func(ctx context.Context, _ orchestration.Inputs) (any, error) {
				return env.Ingest(ctx)
			},
		},
		{
			ID:   stages.StageSplit,
			Deps: []string{stages.StageIngest},
			Run: func(ctx context.Context, _ orchestration.Inputs) (any, error) {
				return env.Split(ctx)
			},
		},
		{
			ID:   stages.StageValidate,
			Deps: []string{stages.StageSplit},
			Run: func(ctx context.Context, _ orchestration.Inputs) (any, error) {
				return env.Validate(ctx)
			},
		},
		{
			ID:   stages.StageTrack,
			Deps: []string{stages.StageValidate},
			Run: func(ctx context.Context, in orchestration.Inputs) (any, error) {
				c, err := conf(in)
				if err != nil {
					return nil, err
				}
				return env.Track(ctx, c)
			},
		},
		{
			ID:   stages.StageTransform,
			Deps: []string{stages.StageTrack, stages.StageSplit, stages.StageValidate},
			Run: func(ctx context.Context, _ orchestration.Inputs) (any, error) {
				return env.Transform(ctx)
			},
		},
		{
			ID:   stages.StageSearch,
			Deps: []string{stages.StageTransform},
			Run: func(ctx context.Context, in orchestration.Inputs) (any, error) {
				c, err := conf(in)
				if err != nil {
					return nil, err
				}
				return env.Search(ctx, c)
			},
		},
		{
			ID:   stages.StageTrain,
			Deps: []string{stages.StageSearch},
			// each attempt would start another run.
			NoRetry: true,
			Run: func(ctx context.Context, in orchestration.Inputs) (any, error) {
				c, err := conf(in)
				if err != nil {
					return nil, err
				}
				trial, err := orchestration.Input[domain.TrialResult](in, stages.StageSearch)
				if err != nil {
					return nil, err
				}
				return env.Train(ctx, c, trial)
			},
		},
		{
			ID:   stages.StageGate,
			Deps: []string{stages.StageTrain, stages.StageTransform},
			Run: func(ctx context.Context, in orchestration.Inputs) (any, error) {
				c, err := conf(in)
				if err != nil {
					return nil, err
				}
				ta, err := candidate(in)
				if err != nil {
					return nil, err
				}
				ev, err := env.Gate(ctx, c, ta)
				if err != nil {
					return nil, err
				}
				return Decision{Evaluation: ev}, nil
			},
		},
		{
			ID:   stages.StagePromote,
			Deps: []string{stages.StageGate},
			// a retry after archiving could promote twice.
			NoRetry: true,
			Run: func(ctx context.Context, in orchestration.Inputs) (any, error) {
				c, err := conf(in)
				if err != nil {
					return nil, err
				}
				ta, err := candidate(in)
				if err != nil {
					return nil, err
				}
				return env.Promote(ctx, c, ta)
			},
		},
		{
			ID:      stages.StageKeep,
			Deps:    []string{stages.StageGate},
			Trigger: orchestration.AllDone,
			Run: func(ctx context.Context, in orchestration.Inputs) (any, error) {
				var ta *domain.TrainingArtifact
				if v, err := candidate(in); err == nil {
					ta = &v
				}
				var ev *gate.Evaluation
				if d, err := orchestration.Input[Decision](in, stages.StageGate); err == nil {
					ev = &d.Evaluation
				}
				return env.Finalize(ctx, ta, ev)
			},
		},
	}

	for i := range nodes {
		nodes[i].Run = classified(nodes[i].Run)
	}

	g := orchestration.New()
	if err := g.Add(nodes...); err != nil {
		return nil, err
	}
	return g, nil
}

// fatal are errors which do not go away by retrying.
var fatal = []error{
	domain.ErrConfigSectionMissing,
	domain.ErrRequiredArtifactMissing,
	domain.ErrExternalToolUnavailable,
	domain.ErrSearchExhausted,
	domain.ErrRegistryOperationFailed,
	domain.ErrNoProductionVersion,
	cfg_pipeline.ErrUnresolvedReference,
	stages.ErrInvalidData,
	stages.ErrNoSearchResult,
	orchestration.ErrMissingInput,
	estimator.ErrInvalidInput,
}

func isFatal(err error) bool {
	for _, f := range fatal {
		if errors.Is(err, f) {
			return true
		}
	}
	var invalidOption cfg_pipeline.InvalidOption
	var invalidParam search.InvalidParam
	return errors.As(err, &invalidOption) || errors.As(err, &invalidParam)
}

func classified(run orchestration.Func) orchestration.Func {
	return func(ctx context.Context, in orchestration.Inputs) (any, error) {
		v, err := run(ctx, in)
		if err != nil && isFatal(err) {
			return v, orchestration.Permanent(err)
		}
		return v, err
	}
}

// Result is the outcome of an execution.
type Result struct {
	ExecutionID string
	Report      orchestration.Report

	// Candidate is nil when training has not succeeded.
	Candidate *domain.TrainingArtifact

	// Decision is empty when the gate has not decided.
	Decision domain.Decision

	// Promotion is nil unless the candidate is promoted.
	Promotion *promotion.Result
}

func (r Result) String() string {
	switch {
	case r.Promotion != nil:
		return fmt.Sprintf("execution %s: promoted %s", r.ExecutionID, r.Promotion.Promoted)
	case r.Decision == domain.Keep:
		return fmt.Sprintf("execution %s: kept the production model (candidate run %s)", r.ExecutionID, r.Candidate.RunID)
	case r.Candidate != nil:
		return fmt.Sprintf("execution %s: candidate run %s is not promoted", r.ExecutionID, r.Candidate.RunID)
	}
	return fmt.Sprintf("execution %s: no candidate", r.ExecutionID)
}

// Run executes the pipeline once.
//
// The error is *orchestration.StageFailed naming the first failed stage.
// The result is filled as far as the execution went, even with an error.
func (p *Pipeline) Run(ctx context.Context, executionID string) (Result, error) {
	env := *p.Env
	env.ExecutionID = executionID
	logger := p.Logger
	if logger == nil {
		logger = logs.Discard()
	}
	env.Logger = logs.Child(logger, fmt.Sprintf("[execution %s] ", executionID))

	g, err := p.graph(&env)
	if err != nil {
		return Result{ExecutionID: executionID}, xe.Wrap(err)
	}

	ex := &orchestration.Executor{
		Retries:    p.Retries,
		RetryDelay: p.RetryDelay,
		Logger:     env.Logger,
		Observe:    p.Observe,
	}
	report, err := ex.Run(ctx, g)

	result := Result{ExecutionID: executionID, Report: report}
	if ta, ok := report.Outputs[stages.StageTrain].(domain.TrainingArtifact); ok {
		result.Candidate = &ta
	}
	if d, ok := report.Outputs[stages.StageGate].(Decision); ok {
		result.Decision = d.Decision()
	}
	if pr, ok := report.Outputs[stages.StagePromote].(promotion.Result); ok {
		result.Promotion = &pr
	}

	if err != nil {
		return result, err
	}
	logger.Print(result)
	return result, nil
}
