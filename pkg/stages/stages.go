// Package stages implements each stage of the training pipeline.
//
// Stages exchange data through the files of a domain.DataFileSet and through
// the values they return. They never share mutable state.
package stages

import (
	"log"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	"github.com/AlexandreManai/ML-pipeline/pkg/estimator"
	"github.com/AlexandreManai/ML-pipeline/pkg/hook"
	"github.com/AlexandreManai/ML-pipeline/pkg/logs"
	"github.com/AlexandreManai/ML-pipeline/pkg/promotion"
	"github.com/AlexandreManai/ML-pipeline/pkg/vcs"
)

// Stage names. They are node ids of the pipeline graph.
const (
	StageLoadConfig = "load_config"
	StageIngest     = "data_ingestion"
	StageSplit      = "data_split"
	StageValidate   = "data_validation"
	StageTrack      = "track_data"
	StageTransform  = "data_transformation"
	StageSearch     = "hyperparameter_optimization"
	StageTrain      = "model_training"
	StageGate       = "model_validation"
	StagePromote    = "push_new_model"
	StageKeep       = "keep_old_model"
)

const (
	DefaultNDaysTest   = 20
	DefaultLabelColumn = "label"

	// DateLayout is the layout of the date column.
	DateLayout = "2006-01-02"
)

type SplitOptions struct {
	// DateColumn holds dates in DateLayout. Empty means the test split is the last rows.
	DateColumn string

	// NDaysTest is the size of the test split in days, or in rows without DateColumn.
	NDaysTest int
}

type TransformOptions struct {
	LabelColumn string

	// DropColumns are removed from features. DateColumn is always removed.
	DropColumns []string
}

type DVCOptions struct {
	Enabled bool
	Binary  string
	HomeDir string
	Remote  string
}

// Env is what stages work with.
type Env struct {
	Files       domain.DataFileSet
	IncomingDir string

	SplitOptions     SplitOptions
	TransformOptions TransformOptions
	DVC              DVCOptions

	Registry registry.Registry

	// Estimator builds the model to fit. NewLogisticRegression when nil.
	Estimator estimator.Factory

	// Runner runs git and dvc.
	Runner vcs.Runner
	Git    vcs.Git

	// PromotionHook is called around promotion. Nil means no hooks.
	PromotionHook hook.Hook[promotion.Event, struct{}]

	// ExecutionID is tagged on experiment runs.
	ExecutionID string

	Logger *log.Logger
	Now    func() time.Time
}

func (e *Env) logger(stage string) *log.Logger {
	if e.Logger == nil {
		return logs.Discard()
	}
	return logs.Child(e.Logger, "[stage "+stage+"] ")
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) estimator() estimator.Factory {
	if e.Estimator == nil {
		return estimator.NewLogisticRegression
	}
	return e.Estimator
}

func (e *Env) nDaysTest() int {
	if e.SplitOptions.NDaysTest <= 0 {
		return DefaultNDaysTest
	}
	return e.SplitOptions.NDaysTest
}

func (e *Env) labelColumn() string {
	if e.TransformOptions.LabelColumn == "" {
		return DefaultLabelColumn
	}
	return e.TransformOptions.LabelColumn
}
