package registry

import (
	"context"
	"io"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
)

// Runs records experiment runs.
type Runs interface {
	// StartRun creates a RUNNING run in the experiment.
	//
	// The experiment is created when it does not exist.
	StartRun(ctx context.Context, experiment string, tags map[string]string) (domain.ExperimentRun, error)

	// EndRun sets a terminal status and end time to the run.
	//
	// Ending an already ended run is ignored. The first terminal status is kept.
	EndRun(ctx context.Context, runId string, status domain.RunStatus) error

	LogParams(ctx context.Context, runId string, params map[string]string) error
	LogMetric(ctx context.Context, runId string, key string, value float64) error
	SetTag(ctx context.Context, runId string, key string, value string) error

	// GetRun returns the run, or error wrapping domain.ErrMissing.
	GetRun(ctx context.Context, runId string) (domain.ExperimentRun, error)
}

// Artifacts stores files logged for runs.
type Artifacts interface {
	// LogArtifact stores content at path relative to the artifact root of the run.
	//
	// It returns the URI of the stored artifact.
	LogArtifact(ctx context.Context, runId string, path string, content io.Reader) (string, error)

	// ArtifactURI returns the URI of path relative to the artifact root of the run.
	ArtifactURI(ctx context.Context, runId string, path string) (string, error)

	// OpenArtifact reads an artifact by URI, as returned by LogArtifact or ArtifactURI.
	OpenArtifact(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Models manages registered model versions and their stages.
type Models interface {
	// RegisterModelVersion registers a new version of model name from a run.
	//
	// The registered model is created when it does not exist.
	// The new version is in stage None, and its number is greater than any existing.
	RegisterModelVersion(ctx context.Context, name string, runId string, source string) (domain.ModelVersion, error)

	// VersionsByStage lists versions of name in any of stages, ordered by version.
	//
	// With no stages, it lists all versions. An unknown name gives an empty list.
	VersionsByStage(ctx context.Context, name string, stages ...domain.ModelStage) ([]domain.ModelVersion, error)

	// GetModelVersion returns a version, or error wrapping domain.ErrMissing.
	GetModelVersion(ctx context.Context, name string, version int) (domain.ModelVersion, error)

	// TransitionStage moves a version to stage.
	//
	// It never moves other versions. Callers archive existing Production versions beforehand.
	TransitionStage(ctx context.Context, name string, version int, stage domain.ModelStage) (domain.ModelVersion, error)
}

// Registry bundles the registry services of one backend.
type Registry interface {
	Runs() Runs
	Models() Models
	Artifacts() Artifacts

	// Close releases connections.
	Close()
}

type impl struct {
	runs      Runs
	models    Models
	artifacts Artifacts
	close     func()
}

// New bundles services into a Registry. onClose may be nil.
func New(runs Runs, models Models, artifacts Artifacts, onClose func()) Registry {
	return &impl{runs: runs, models: models, artifacts: artifacts, close: onClose}
}

func (i *impl) Runs() Runs {
	return i.runs
}

func (i *impl) Models() Models {
	return i.models
}

func (i *impl) Artifacts() Artifacts {
	return i.artifacts
}

func (i *impl) Close() {
	if i.close != nil {
		i.close()
	}
}
