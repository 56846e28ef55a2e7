// Package promotion makes a trained model the production version of its model name.
package promotion

import (
	"context"
	"fmt"
	"log"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
	"github.com/AlexandreManai/ML-pipeline/pkg/hook"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
)

// Event is the payload of promotion hooks.
type Event struct {
	Model    string `json:"model"`
	RunID    string `json:"runId"`
	ModelURI string `json:"modelUri"`

	// Version is the promoted version. It is 0 for before hooks.
	Version int `json:"version,omitempty"`

	// Archived are versions moved out of Production. It is empty for before hooks.
	Archived []int `json:"archived,omitempty"`
}

// Result of a promotion.
type Result struct {
	Promoted domain.ModelVersion
	Archived []domain.ModelVersion
}

// Promoter registers a run as a new model version and makes it Production.
type Promoter struct {
	Models registry.Models

	// Hook is called around promotion. When nil, no hooks are called.
	Hook hook.Hook[Event, struct{}]

	Logger *log.Logger
}

func (p *Promoter) logger() *log.Logger {
	if p.Logger == nil {
		return logs.Discard()
	}
	return p.Logger
}

// Promote makes the model of the artifact the only Production version of model.
//
// Current Production versions are archived before the new version is promoted,
// so there are never two Production versions. A failure after archiving leaves
// no Production version; it is returned as RegistryOperationFailed and should
// not be retried automatically.
func (p *Promoter) Promote(ctx context.Context, model string, artifact domain.TrainingArtifact) (Result, error) {
	logger := p.logger()
	ev := Event{Model: model, RunID: artifact.RunID, ModelURI: artifact.ModelURI}

	if p.Hook != nil {
		if _, err := p.Hook.Before(ctx, ev); err != nil {
			return Result{}, xe.Wrap(fmt.Errorf("promotion of run %s is refused by hook: %w", artifact.RunID, err))
		}
	}

	current, err := p.Models.VersionsByStage(ctx, model, domain.StageProduction)
	if err != nil {
		logger.Printf("failed to list production versions of %s, assume none: %s", model, err)
		current = nil
	}

	result := Result{}
	for _, mv := range current {
		logger.Printf("archiving model: %s", mv)
		archived, err := p.Models.TransitionStage(ctx, model, mv.Version, domain.StageArchived)
		if err != nil {
			return result, p.broken(domain.RegistryOperationFailed{
				Op: "archive", Model: model, Version: mv.Version, Err: err,
			}, result)
		}
		result.Archived = append(result.Archived, archived)
		ev.Archived = append(ev.Archived, archived.Version)
	}

	source := artifact.ModelURI
	if source == "" {
		source = domain.RunModelURI(artifact.RunID)
	}
	registered, err := p.Models.RegisterModelVersion(ctx, model, artifact.RunID, source)
	if err != nil {
		return result, p.broken(domain.RegistryOperationFailed{Op: "register", Model: model, Err: err}, result)
	}

	logger.Printf("promoting model: run %s as version %d", artifact.RunID, registered.Version)
	promoted, err := p.Models.TransitionStage(ctx, model, registered.Version, domain.StageProduction)
	if err != nil {
		return result, p.broken(domain.RegistryOperationFailed{
			Op: "promote", Model: model, Version: registered.Version, Err: err,
		}, result)
	}
	result.Promoted = promoted
	ev.Version = promoted.Version

	if err := p.verify(ctx, model, promoted.Version); err != nil {
		return result, err
	}

	if p.Hook != nil {
		if err := p.Hook.After(ctx, ev); err != nil {
			logger.Printf("after-promotion hook for %s failed: %s", promoted, err)
		}
	}
	return result, nil
}

// verify checks that version is the only Production version of model.
func (p *Promoter) verify(ctx context.Context, model string, version int) error {
	prod, err := p.Models.VersionsByStage(ctx, model, domain.StageProduction)
	if err != nil {
		return xe.Wrap(domain.RegistryOperationFailed{Op: "verify", Model: model, Version: version, Err: err})
	}
	if len(prod) == 1 && prod[0].Version == version {
		return nil
	}
	versions := make([]int, len(prod))
	for i, mv := range prod {
		versions[i] = mv.Version
	}
	return xe.Wrap(fmt.Errorf(
		"%w: %s should have only version %d in Production, but %v",
		domain.ErrNoProductionVersion, model, version, versions,
	))
}

func (p *Promoter) broken(err domain.RegistryOperationFailed, r Result) error {
	if 0 < len(r.Archived) {
		p.logger().Printf(
			"!!! %s has no Production version: %d version(s) are archived, but %s failed. recover it manually. !!!",
			err.Model, len(r.Archived), err.Op,
		)
	}
	return xe.Wrap(err)
}
