package stages

import (
	"context"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/gate"
	"github.com/AlexandreManai/ML-pipeline/pkg/promotion"
)

// Gate compares the candidate with the production model on the test split.
func (e *Env) Gate(ctx context.Context, conf *pipeline.Config, candidate domain.TrainingArtifact) (gate.Evaluation, error) {
	general, err := conf.General(StageGate)
	if err != nil {
		return gate.Evaluation{}, err
	}
	validation, err := conf.ModelValidation()
	if err != nil {
		return gate.Evaluation{}, err
	}
	m, err := e.ReadMatrices(StageGate, domain.TransformedXTestFile, domain.TransformedYTestFile)
	if err != nil {
		return gate.Evaluation{}, err
	}

	g := &gate.Gate{
		Registry: e.Registry,
		Policy:   gate.Policy{Floor: validation.Floor},
		Logger:   e.logger(StageGate),
	}
	return g.Evaluate(ctx, general.ModelName, candidate, m.XTest, m.YTest)
}

// Promote makes the candidate the production version of general_config.model_name.
func (e *Env) Promote(ctx context.Context, conf *pipeline.Config, candidate domain.TrainingArtifact) (promotion.Result, error) {
	general, err := conf.General(StagePromote)
	if err != nil {
		return promotion.Result{}, err
	}
	p := &promotion.Promoter{
		Models: e.Registry.Models(),
		Hook:   e.PromotionHook,
		Logger: e.logger(StagePromote),
	}
	return p.Promote(ctx, general.ModelName, candidate)
}

// Outcome is what the finalizer has seen of an execution.
type Outcome struct {
	// RunID is empty when training did not record a run.
	RunID     string
	RunStatus domain.RunStatus

	// Decision is empty when the gate has not decided.
	Decision domain.Decision
}

// Finalize closes the run of the execution, whichever way the gate went.
//
// The run is FINISHED when the gate has decided, FAILED otherwise.
// candidate and evaluation are nil when their stages have not succeeded.
func (e *Env) Finalize(ctx context.Context, candidate *domain.TrainingArtifact, evaluation *gate.Evaluation) (Outcome, error) {
	logger := e.logger(StageKeep)
	out := Outcome{}
	if evaluation != nil {
		out.Decision = evaluation.Decision()
	}

	if candidate == nil {
		logger.Printf("no run to close")
		return out, nil
	}
	out.RunID = candidate.RunID
	out.RunStatus = domain.RunFailed
	if evaluation != nil && evaluation.State.Terminal() {
		out.RunStatus = domain.RunFinished
	}

	if err := e.Registry.Runs().EndRun(context.WithoutCancel(ctx), candidate.RunID, out.RunStatus); err != nil {
		return out, xe.Wrap(err)
	}
	if out.Decision == domain.Keep {
		logger.Printf("keep the production model. run %s is not promoted", candidate.RunID)
	}
	logger.Printf("run %s is %s", candidate.RunID, out.RunStatus)
	return out, nil
}
