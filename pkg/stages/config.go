package stages

import (
	"context"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

// LoadConfig loads the pipeline configuration for this execution.
//
// Sections are checked by the stages which need them, not here.
func (e *Env) LoadConfig(ctx context.Context, path string) (*pipeline.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conf, err := pipeline.Load(path)
	if err != nil {
		return nil, xe.WrapWithNote(path, err)
	}
	e.logger(StageLoadConfig).Printf("loaded %s: sections %v", path, conf.Sections())
	return conf, nil
}
