package mock

import (
	"context"
	"errors"
	"io"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
)

type CallLog[T any] []T

func (l CallLog[T]) Times() uint {
	return uint(len(l))
}

type Registry struct {
	MockRuns      *Runs
	MockModels    *Models
	MockArtifacts *Artifacts
}

var _ registry.Registry = &Registry{}

func New() *Registry {
	return &Registry{
		MockRuns:      &Runs{},
		MockModels:    &Models{},
		MockArtifacts: &Artifacts{},
	}
}

func (r *Registry) Runs() registry.Runs {
	return r.MockRuns
}

func (r *Registry) Models() registry.Models {
	return r.MockModels
}

func (r *Registry) Artifacts() registry.Artifacts {
	return r.MockArtifacts
}

func (r *Registry) Close() {}

type Runs struct {
	Impl struct {
		StartRun  func(ctx context.Context, experiment string, tags map[string]string) (domain.ExperimentRun, error)
		EndRun    func(ctx context.Context, runId string, status domain.RunStatus) error
		LogParams func(ctx context.Context, runId string, params map[string]string) error
		LogMetric func(ctx context.Context, runId string, key string, value float64) error
		SetTag    func(ctx context.Context, runId string, key string, value string) error
		GetRun    func(ctx context.Context, runId string) (domain.ExperimentRun, error)
	}

	Calls struct {
		StartRun CallLog[struct {
			Experiment string
			Tags       map[string]string
		}]
		EndRun CallLog[struct {
			RunId  string
			Status domain.RunStatus
		}]
		LogParams CallLog[struct {
			RunId  string
			Params map[string]string
		}]
		LogMetric CallLog[struct {
			RunId string
			Key   string
			Value float64
		}]
		SetTag CallLog[struct {
			RunId string
			Key   string
			Value string
		}]
		GetRun CallLog[string]
	}
}

var _ registry.Runs = &Runs{}

func (m *Runs) StartRun(ctx context.Context, experiment string, tags map[string]string) (domain.ExperimentRun, error) {
	m.Calls.StartRun = append(m.Calls.StartRun, struct {
		Experiment string
		Tags       map[string]string
	}{Experiment: experiment, Tags: tags})
	if m.Impl.StartRun != nil {
		return m.Impl.StartRun(ctx, experiment, tags)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) EndRun(ctx context.Context, runId string, status domain.RunStatus) error {
	m.Calls.EndRun = append(m.Calls.EndRun, struct {
		RunId  string
		Status domain.RunStatus
	}{RunId: runId, Status: status})
	if m.Impl.EndRun != nil {
		return m.Impl.EndRun(ctx, runId, status)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) LogParams(ctx context.Context, runId string, params map[string]string) error {
	m.Calls.LogParams = append(m.Calls.LogParams, struct {
		RunId  string
		Params map[string]string
	}{RunId: runId, Params: params})
	if m.Impl.LogParams != nil {
		return m.Impl.LogParams(ctx, runId, params)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) LogMetric(ctx context.Context, runId string, key string, value float64) error {
	m.Calls.LogMetric = append(m.Calls.LogMetric, struct {
		RunId string
		Key   string
		Value float64
	}{RunId: runId, Key: key, Value: value})
	if m.Impl.LogMetric != nil {
		return m.Impl.LogMetric(ctx, runId, key, value)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) SetTag(ctx context.Context, runId string, key string, value string) error {
	m.Calls.SetTag = append(m.Calls.SetTag, struct {
		RunId string
		Key   string
		Value string
	}{RunId: runId, Key: key, Value: value})
	if m.Impl.SetTag != nil {
		return m.Impl.SetTag(ctx, runId, key, value)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) GetRun(ctx context.Context, runId string) (domain.ExperimentRun, error) {
	m.Calls.GetRun = append(m.Calls.GetRun, runId)
	if m.Impl.GetRun != nil {
		return m.Impl.GetRun(ctx, runId)
	}
	panic(errors.New("it should not be called"))
}

type Models struct {
	Impl struct {
		RegisterModelVersion func(ctx context.Context, name string, runId string, source string) (domain.ModelVersion, error)
		VersionsByStage      func(ctx context.Context, name string, stages ...domain.ModelStage) ([]domain.ModelVersion, error)
		GetModelVersion      func(ctx context.Context, name string, version int) (domain.ModelVersion, error)
		TransitionStage      func(ctx context.Context, name string, version int, stage domain.ModelStage) (domain.ModelVersion, error)
	}

	Calls struct {
		RegisterModelVersion CallLog[struct {
			Name   string
			RunId  string
			Source string
		}]
		VersionsByStage CallLog[struct {
			Name   string
			Stages []domain.ModelStage
		}]
		GetModelVersion CallLog[struct {
			Name    string
			Version int
		}]
		TransitionStage CallLog[struct {
			Name    string
			Version int
			Stage   domain.ModelStage
		}]
	}
}

var _ registry.Models = &Models{}

func (m *Models) RegisterModelVersion(ctx context.Context, name string, runId string, source string) (domain.ModelVersion, error) {
	m.Calls.RegisterModelVersion = append(m.Calls.RegisterModelVersion, struct {
		Name   string
		RunId  string
		Source string
	}{Name: name, RunId: runId, Source: source})
	if m.Impl.RegisterModelVersion != nil {
		return m.Impl.RegisterModelVersion(ctx, name, runId, source)
	}
	panic(errors.New("it should not be called"))
}

func (m *Models) VersionsByStage(ctx context.Context, name string, stages ...domain.ModelStage) ([]domain.ModelVersion, error) {
	m.Calls.VersionsByStage = append(m.Calls.VersionsByStage, struct {
		Name   string
		Stages []domain.ModelStage
	}{Name: name, Stages: stages})
	if m.Impl.VersionsByStage != nil {
		return m.Impl.VersionsByStage(ctx, name, stages...)
	}
	panic(errors.New("it should not be called"))
}

func (m *Models) GetModelVersion(ctx context.Context, name string, version int) (domain.ModelVersion, error) {
	m.Calls.GetModelVersion = append(m.Calls.GetModelVersion, struct {
		Name    string
		Version int
	}{Name: name, Version: version})
	if m.Impl.GetModelVersion != nil {
		return m.Impl.GetModelVersion(ctx, name, version)
	}
	panic(errors.New("it should not be called"))
}

func (m *Models) TransitionStage(ctx context.Context, name string, version int, stage domain.ModelStage) (domain.ModelVersion, error) {
	m.Calls.TransitionStage = append(m.Calls.TransitionStage, struct {
		Name    string
		Version int
		Stage   domain.ModelStage
	}{Name: name, Version: version, Stage: stage})
	if m.Impl.TransitionStage != nil {
		return m.Impl.TransitionStage(ctx, name, version, stage)
	}
	panic(errors.New("it should not be called"))
}

type Artifacts struct {
	Impl struct {
		LogArtifact  func(ctx context.Context, runId string, path string, content io.Reader) (string, error)
		ArtifactURI  func(ctx context.Context, runId string, path string) (string, error)
		OpenArtifact func(ctx context.Context, uri string) (io.ReadCloser, error)
	}

	Calls struct {
		LogArtifact CallLog[struct {
			RunId string
			Path  string
		}]
		ArtifactURI CallLog[struct {
			RunId string
			Path  string
		}]
		OpenArtifact CallLog[string]
	}
}

var _ registry.Artifacts = &Artifacts{}

func (m *Artifacts) LogArtifact(ctx context.Context, runId string, path string, content io.Reader) (string, error) {
	m.Calls.LogArtifact = append(m.Calls.LogArtifact, struct {
		RunId string
		Path  string
	}{RunId: runId, Path: path})
	if m.Impl.LogArtifact != nil {
		return m.Impl.LogArtifact(ctx, runId, path, content)
	}
	panic(errors.New("it should not be called"))
}

func (m *Artifacts) ArtifactURI(ctx context.Context, runId string, path string) (string, error) {
	m.Calls.ArtifactURI = append(m.Calls.ArtifactURI, struct {
		RunId string
		Path  string
	}{RunId: runId, Path: path})
	if m.Impl.ArtifactURI != nil {
		return m.Impl.ArtifactURI(ctx, runId, path)
	}
	panic(errors.New("it should not be called"))
}

func (m *Artifacts) OpenArtifact(ctx context.Context, uri string) (io.ReadCloser, error) {
	m.Calls.OpenArtifact = append(m.Calls.OpenArtifact, uri)
	if m.Impl.OpenArtifact != nil {
		return m.Impl.OpenArtifact(ctx, uri)
	}
	panic(errors.New("it should not be called"))
}
