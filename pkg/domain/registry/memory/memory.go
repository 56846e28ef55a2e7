// Package memory is an in-process registry.
//
// It is for a single orchestrator process and tests. Nothing survives restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	"github.com/google/uuid"
)

type Registry struct {
	mu sync.Mutex

	now       func() time.Time
	artifacts registry.Artifacts

	experiments map[string]string // name -> id
	runs        map[string]*domain.ExperimentRun
	versions    map[string][]*domain.ModelVersion // model name -> versions, by version
}

var _ registry.Registry = &Registry{}
var _ registry.Runs = &runs{}
var _ registry.Models = &models{}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry storing artifacts in artifacts.
func New(artifacts registry.Artifacts, options ...Option) *Registry {
	r := &Registry{
		now:         time.Now,
		artifacts:   artifacts,
		experiments: map[string]string{},
		runs:        map[string]*domain.ExperimentRun{},
		versions:    map[string][]*domain.ModelVersion{},
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Registry) Runs() registry.Runs {
	return &runs{r}
}

func (r *Registry) Models() registry.Models {
	return &models{r}
}

func (r *Registry) Artifacts() registry.Artifacts {
	return r.artifacts
}

func (r *Registry) Close() {}

type runs struct {
	*Registry
}

func (r *runs) StartRun(ctx context.Context, experiment string, tags map[string]string) (domain.ExperimentRun, error) {
	if experiment == "" {
		return domain.ExperimentRun{}, fmt.Errorf("experiment name is empty")
	}
	runId := uuid.NewString()
	root, err := r.artifacts.ArtifactURI(ctx, runId, "")
	if err != nil {
		return domain.ExperimentRun{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.experiments[experiment]; !ok {
		r.experiments[experiment] = uuid.NewString()
	}
	run := &domain.ExperimentRun{
		RunID:       runId,
		Experiment:  experiment,
		Status:      domain.RunRunning,
		StartTime:   r.now(),
		Params:      map[string]string{},
		Metrics:     map[string]float64{},
		Tags:        copyMap(tags),
		ArtifactURI: root,
	}
	r.runs[runId] = run
	return copyRun(run), nil
}

func (r *runs) get(runId string) (*domain.ExperimentRun, error) {
	run, ok := r.runs[runId]
	if !ok {
		return nil, domain.Missing{Table: "run", Identity: runId}
	}
	return run, nil
}

func (r *runs) EndRun(_ context.Context, runId string, status domain.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.get(runId)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	now := r.now()
	run.Status = status
	run.EndTime = &now
	return nil
}

func (r *runs) LogParams(_ context.Context, runId string, params map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.get(runId)
	if err != nil {
		return err
	}
	for k, v := range params {
		if old, ok := run.Params[k]; ok && old != v {
			return fmt.Errorf("param %s of run %s is already logged as %q", k, runId, old)
		}
	}
	for k, v := range params {
		run.Params[k] = v
	}
	return nil
}

func (r *runs) LogMetric(_ context.Context, runId string, key string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.get(runId)
	if err != nil {
		return err
	}
	run.Metrics[key] = value
	return nil
}

func (r *runs) SetTag(_ context.Context, runId string, key string, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.get(runId)
	if err != nil {
		return err
	}
	run.Tags[key] = value
	return nil
}

func (r *runs) GetRun(_ context.Context, runId string) (domain.ExperimentRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.get(runId)
	if err != nil {
		return domain.ExperimentRun{}, err
	}
	return copyRun(run), nil
}

type models struct {
	*Registry
}

func (m *models) RegisterModelVersion(_ context.Context, name string, runId string, source string) (domain.ModelVersion, error) {
	if name == "" {
		return domain.ModelVersion{}, fmt.Errorf("model name is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runId]; !ok {
		return domain.ModelVersion{}, domain.Missing{Table: "run", Identity: runId}
	}

	now := m.now()
	mv := &domain.ModelVersion{
		Name:      name,
		Version:   len(m.versions[name]) + 1,
		RunID:     runId,
		Source:    source,
		Stage:     domain.StageNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.versions[name] = append(m.versions[name], mv)
	return *mv, nil
}

func (m *models) VersionsByStage(_ context.Context, name string, stages ...domain.ModelStage) ([]domain.ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := []domain.ModelVersion{}
	for _, mv := range m.versions[name] {
		if len(stages) == 0 || contains(stages, mv.Stage) {
			ret = append(ret, *mv)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Version < ret[j].Version })
	return ret, nil
}

func (m *models) GetModelVersion(_ context.Context, name string, version int) (domain.ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mv, err := m.version(name, version)
	if err != nil {
		return domain.ModelVersion{}, err
	}
	return *mv, nil
}

func (m *models) version(name string, version int) (*domain.ModelVersion, error) {
	vs := m.versions[name]
	if version < 1 || len(vs) < version {
		return nil, domain.Missing{Table: "model_version", Identity: fmt.Sprintf("%s/%d", name, version)}
	}
	return vs[version-1], nil
}

// TransitionStage refuses to make a second Production version.
func (m *models) TransitionStage(_ context.Context, name string, version int, stage domain.ModelStage) (domain.ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mv, err := m.version(name, version)
	if err != nil {
		return domain.ModelVersion{}, err
	}
	if mv.Stage == stage {
		return *mv, nil
	}
	if !domain.CanTransit(mv.Stage, stage) {
		return domain.ModelVersion{}, domain.NewErrInvalidStageTransition(mv.Stage, stage)
	}
	if stage == domain.StageProduction {
		for _, other := range m.versions[name] {
			if other.Stage == domain.StageProduction {
				return domain.ModelVersion{}, fmt.Errorf(
					"%w: version %d is in Production already",
					domain.NewErrInvalidStageTransition(mv.Stage, stage), other.Version,
				)
			}
		}
	}
	mv.Stage = stage
	mv.UpdatedAt = m.now()
	return *mv, nil
}

func contains(stages []domain.ModelStage, s domain.ModelStage) bool {
	for _, x := range stages {
		if x == s {
			return true
		}
	}
	return false
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	ret := make(map[K]V, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

func copyRun(r *domain.ExperimentRun) domain.ExperimentRun {
	ret := *r
	ret.Params = copyMap(r.Params)
	ret.Metrics = copyMap(r.Metrics)
	ret.Tags = copyMap(r.Tags)
	if r.EndTime != nil {
		t := *r.EndTime
		ret.EndTime = &t
	}
	return ret
}
