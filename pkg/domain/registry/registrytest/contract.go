// Package registrytest has behaviours every registry implementation shares.
package registrytest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
)

type Options struct {
	// The backend refuses a second Production version by itself.
	EnforcesSingleProduction bool
}

// Contract runs behaviours on registries made by newRegistry.
//
// Each subtest gets a new registry.
func Contract(t *testing.T, newRegistry func(*testing.T) registry.Registry, opts Options) {
	t.Run("a run is started, logged and ended", func(t *testing.T) {
		ctx := context.Background()
		reg := newRegistry(t)
		defer reg.Close()
		runs := reg.Runs()

		run, err := runs.StartRun(ctx, "contract-experiment", map[string]string{"owner": "test"})
		if err != nil {
			t.Fatal(err)
		}
		if run.RunID == "" || run.Status != domain.RunRunning {
			t.Errorf("started run: %+v", run)
		}

		if err := runs.LogParams(ctx, run.RunID, map[string]string{"C": "1", "iterations": "1000"}); err != nil {
			t.Fatal(err)
		}
		if err := runs.LogMetric(ctx, run.RunID, domain.MetricFitDuration, 0.25); err != nil {
			t.Fatal(err)
		}
		if err := runs.SetTag(ctx, run.RunID, domain.TagGitHash, "abc123"); err != nil {
			t.Fatal(err)
		}
		if err := runs.EndRun(ctx, run.RunID, domain.RunFinished); err != nil {
			t.Fatal(err)
		}
		if err := runs.EndRun(ctx, run.RunID, domain.RunFailed); err != nil {
			t.Fatalf("ending twice: %v", err)
		}

		got, err := runs.GetRun(ctx, run.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.RunFinished || got.EndTime == nil {
			t.Errorf("status: actual=(%s, %v), expect=(%s, not nil)", got.Status, got.EndTime, domain.RunFinished)
		}
		if got.Params["C"] != "1" || got.Params["iterations"] != "1000" {
			t.Errorf("params: %v", got.Params)
		}
		if v, ok := got.Metric(domain.MetricFitDuration); !ok || v != 0.25 {
			t.Errorf("metric: (%v, %v)", v, ok)
		}
		if got.Tags[domain.TagGitHash] != "abc123" || got.Tags["owner"] != "test" {
			t.Errorf("tags: %v", got.Tags)
		}
		if got.Experiment != "contract-experiment" {
			t.Errorf("experiment: %s", got.Experiment)
		}
	})

	t.Run("a missing run is ErrMissing", func(t *testing.T) {
		reg := newRegistry(t)
		defer reg.Close()
		_, err := reg.Runs().GetRun(context.Background(), "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, domain.ErrMissing) {
			t.Errorf("error: actual=%v, expect=%v", err, domain.ErrMissing)
		}
	})

	t.Run("artifacts of a run are readable", func(t *testing.T) {
		ctx := context.Background()
		reg := newRegistry(t)
		defer reg.Close()

		run, err := reg.Runs().StartRun(ctx, "contract-experiment", nil)
		if err != nil {
			t.Fatal(err)
		}
		uri, err := reg.Artifacts().LogArtifact(ctx, run.RunID, "model/model.json", strings.NewReader(`{"w": [1]}`))
		if err != nil {
			t.Fatal(err)
		}
		r, err := reg.Artifacts().OpenArtifact(ctx, uri)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		content, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if string(content) != `{"w": [1]}` {
			t.Errorf("content: %s", content)
		}
	})

	t.Run("versions are numbered and staged", func(t *testing.T) {
		ctx := context.Background()
		reg := newRegistry(t)
		defer reg.Close()
		models := reg.Models()

		none, err := models.VersionsByStage(ctx, "contract-model", domain.StageProduction)
		if err != nil {
			t.Fatal(err)
		}
		if len(none) != 0 {
			t.Errorf("unknown model has versions: %v", none)
		}

		var registered []domain.ModelVersion
		for i := 0; i < 3; i++ {
			run, err := reg.Runs().StartRun(ctx, "contract-experiment", nil)
			if err != nil {
				t.Fatal(err)
			}
			mv, err := models.RegisterModelVersion(ctx, "contract-model", run.RunID, run.ArtifactURI+"/model")
			if err != nil {
				t.Fatal(err)
			}
			if mv.Stage != domain.StageNone || mv.RunID != run.RunID {
				t.Errorf("registered: %+v", mv)
			}
			registered = append(registered, mv)
		}
		if !(registered[0].Version < registered[1].Version && registered[1].Version < registered[2].Version) {
			t.Errorf("versions are not increasing: %v", registered)
		}

		if _, err := models.TransitionStage(ctx, "contract-model", registered[0].Version, domain.StageProduction); err != nil {
			t.Fatal(err)
		}
		if _, err := models.TransitionStage(ctx, "contract-model", registered[1].Version, domain.StageArchived); err != nil {
			t.Fatal(err)
		}

		prod, err := models.VersionsByStage(ctx, "contract-model", domain.StageProduction)
		if err != nil {
			t.Fatal(err)
		}
		if len(prod) != 1 || prod[0].Version != registered[0].Version {
			t.Errorf("production: %v", prod)
		}

		all, err := models.VersionsByStage(ctx, "contract-model")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Errorf("all: %v", all)
		}
		for i := 1; i < len(all); i++ {
			if all[i-1].Version >= all[i].Version {
				t.Errorf("not ordered: %v", all)
			}
		}

		got, err := models.GetModelVersion(ctx, "contract-model", registered[1].Version)
		if err != nil {
			t.Fatal(err)
		}
		if got.Stage != domain.StageArchived {
			t.Errorf("stage: actual=%s, expect=%s", got.Stage, domain.StageArchived)
		}

		if _, err := models.GetModelVersion(ctx, "contract-model", 999); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("missing version: %v", err)
		}

		if opts.EnforcesSingleProduction {
			_, err := models.TransitionStage(ctx, "contract-model", registered[2].Version, domain.StageProduction)
			if err == nil {
				t.Error("second Production version is accepted")
			}
			prod, _ := models.VersionsByStage(ctx, "contract-model", domain.StageProduction)
			if len(prod) != 1 {
				t.Errorf("production after refusal: %v", prod)
			}
		}
	})
}
