// Package gate decides whether a candidate model replaces the production model.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/estimator"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
)

// Policy compares validation scores. Higher is better.
type Policy struct {
	// Floor is the minimum score to promote when there is no production model.
	Floor float64
}

// Decide promotes candidate when it is no worse than production.
//
// Ties promote. With no production score, candidate is compared with Floor.
// A NaN candidate never promotes.
func (p Policy) Decide(candidate float64, production *float64) domain.Decision {
	if math.IsNaN(candidate) {
		return domain.Keep
	}
	baseline := p.Floor
	if production != nil && !math.IsNaN(*production) {
		baseline = *production
	}
	if baseline <= candidate {
		return domain.Promote
	}
	return domain.Keep
}

var ErrInvalidGateTransition = errors.New("invalid gate transition")

// Transit moves a gate state by a decision.
//
// Only Evaluating can transit.
func Transit(from domain.GateState, d domain.Decision) (domain.GateState, error) {
	if from != domain.GateEvaluating {
		return from, fmt.Errorf("%w: %s is terminal", ErrInvalidGateTransition, from)
	}
	switch d {
	case domain.Promote:
		return domain.GatePromote, nil
	case domain.Keep:
		return domain.GateKeep, nil
	}
	return from, fmt.Errorf("%w: unknown decision %q", ErrInvalidGateTransition, d)
}

// Baseline is the production model the candidate is compared with.
type Baseline struct {
	Version domain.ModelVersion
	Score   float64

	// Rescored is true when Score is measured on the current test split,
	// false when it is the metric logged on the version's run.
	Rescored bool
}

// Evaluation is a result of the gate.
type Evaluation struct {
	State     domain.GateState
	Candidate domain.TrainingArtifact
	Score     float64

	// Production is nil when there is no usable production model.
	Production *Baseline
}

// Decision of the gate. It is valid only when State is terminal.
func (e Evaluation) Decision() domain.Decision {
	d, _ := e.State.Decision()
	return d
}

func (e Evaluation) String() string {
	if e.Production == nil {
		return fmt.Sprintf("%s: candidate %s scores %.4f, no production model", e.State, e.Candidate.RunID, e.Score)
	}
	return fmt.Sprintf(
		"%s: candidate %s scores %.4f, production %s scores %.4f",
		e.State, e.Candidate.RunID, e.Score, e.Production.Version, e.Production.Score,
	)
}

// Gate evaluates candidates against the production model of a registry.
type Gate struct {
	Registry registry.Registry
	Policy   Policy
	Logger   *log.Logger
}

func (g *Gate) logger() *log.Logger {
	if g.Logger == nil {
		return logs.Discard()
	}
	return g.Logger
}

// Evaluate scores the candidate on (x, y) and decides on it.
//
// The candidate score is logged to its run as validation_score.
// Finding and scoring the production model is best effort: when it fails,
// the gate goes on as if there is no production model.
func (g *Gate) Evaluate(
	ctx context.Context, model string, candidate domain.TrainingArtifact, x [][]float64, y []string,
) (Evaluation, error) {
	ev := Evaluation{State: domain.GateEvaluating, Candidate: candidate}

	m, err := g.load(ctx, candidate.ModelURI, candidate.RunID)
	if err != nil {
		return ev, xe.Wrap(fmt.Errorf("candidate model %s: %w", candidate.ModelURI, err))
	}
	score, err := estimator.Accuracy(m, x, y)
	if err != nil {
		return ev, xe.Wrap(fmt.Errorf("candidate model %s: %w", candidate.ModelURI, err))
	}
	ev.Score = score
	if err := g.Registry.Runs().LogMetric(ctx, candidate.RunID, domain.MetricValidationScore, score); err != nil {
		return ev, xe.Wrap(err)
	}

	ev.Production = g.baseline(ctx, model, x, y)

	var prod *float64
	if ev.Production != nil {
		prod = &ev.Production.Score
	}
	state, err := Transit(ev.State, g.Policy.Decide(score, prod))
	if err != nil {
		return ev, xe.Wrap(err)
	}
	ev.State = state
	g.logger().Print(ev)

	if err := g.Registry.Runs().SetTag(ctx, candidate.RunID, domain.TagDecision, ev.Decision().String()); err != nil {
		g.logger().Printf("failed to tag decision on run %s: %s", candidate.RunID, err)
	}
	return ev, nil
}

func (g *Gate) baseline(ctx context.Context, model string, x [][]float64, y []string) *Baseline {
	logger := g.logger()

	versions, err := g.Registry.Models().VersionsByStage(ctx, model, domain.StageProduction)
	if err != nil {
		logger.Printf("failed to find production model of %s, assume none: %s", model, err)
		return nil
	}
	if len(versions) == 0 {
		logger.Printf("no production model of %s", model)
		return nil
	}
	// ordered by version. the newest one is serving, if there are many.
	mv := versions[len(versions)-1]

	if m, err := g.load(ctx, mv.Source, mv.RunID); err != nil {
		logger.Printf("failed to load production model %s: %s", mv, err)
	} else if score, err := estimator.Accuracy(m, x, y); err != nil {
		logger.Printf("failed to score production model %s: %s", mv, err)
	} else {
		return &Baseline{Version: mv, Score: score, Rescored: true}
	}

	run, err := g.Registry.Runs().GetRun(ctx, mv.RunID)
	if err != nil {
		logger.Printf("failed to get run of production model %s, assume none: %s", mv, err)
		return nil
	}
	score, ok := run.Metric(domain.MetricValidationScore)
	if !ok {
		logger.Printf("production model %s has no %s, assume none", mv, domain.MetricValidationScore)
		return nil
	}
	return &Baseline{Version: mv, Score: score}
}

// load reads a model from uri. `runs:/<run>/model` refers the model artifact of the run.
func (g *Gate) load(ctx context.Context, uri string, runId string) (estimator.Model, error) {
	if uri == "" {
		uri = domain.RunModelURI(runId)
	}
	if rest, ok := strings.CutPrefix(uri, "runs:/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		resolved, err := g.Registry.Artifacts().ArtifactURI(ctx, id, domain.ModelArtifactPath)
		if err != nil {
			return nil, err
		}
		uri = resolved
	}

	r, err := g.Registry.Artifacts().OpenArtifact(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return estimator.Load(r)
}
