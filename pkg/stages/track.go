package stages

import (
	"context"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/vcs"
)

// Track records the version of raw_data_file with DVC, authored by general_config's git identity.
func (e *Env) Track(ctx context.Context, conf *pipeline.Config) (vcs.TrackResult, error) {
	logger := e.logger(StageTrack)

	general, err := conf.General(StageTrack)
	if err != nil {
		return vcs.TrackResult{}, err
	}
	if err := e.Files.Require(StageTrack, domain.RawDataFile); err != nil {
		return vcs.TrackResult{}, err
	}
	if !e.DVC.Enabled {
		logger.Printf("data tracking is disabled")
		return vcs.TrackResult{}, nil
	}

	homeDir := e.DVC.HomeDir
	if homeDir == "" {
		homeDir = e.Files.Dir()
	}
	tracker := &vcs.Tracker{
		Runner:  e.Runner,
		Binary:  e.DVC.Binary,
		HomeDir: homeDir,
		Remote:  e.DVC.Remote,
		Git:     e.Git,
		Author:  vcs.Identity{Name: general.GitName, Email: general.GitEmail},
		Logger:  logger,
		Now:     e.Now,
	}
	return tracker.Track(ctx, e.Files.Path(domain.RawDataFile))
}
