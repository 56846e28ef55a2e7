package bootstrap_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	testctx "github.com/AlexandreManai/ML-pipeline/internal/testutils/context"
	"github.com/AlexandreManai/ML-pipeline/pkg/bootstrap"
	"github.com/AlexandreManai/ML-pipeline/pkg/configs/orchestrator"
	"github.com/AlexandreManai/ML-pipeline/pkg/dataset"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/runlock"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/try"
)

const pipelineConfig = `
general_config:
  model_name: churn
  mlflow_experiment_name: exp
model_training:
  optuna: false
  C: 1.0
  iterations: 200
`

// layout writes an orchestrator config with a memory registry, and incoming data.
func layout(t *testing.T, lock string) *orchestrator.Config {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	incoming := filepath.Join(dataDir, "incoming")
	if err := os.MkdirAll(incoming, 0o755); err != nil {
		t.Fatal(err)
	}

	rows := [][]string{}
	for i := 0; i < 100; i++ {
		x := i % 20
		label := "neg"
		if 10 <= x {
			label = "pos"
		}
		rows = append(rows, []string{fmt.Sprint(x), label})
	}
	if err := dataset.Write(
		filepath.Join(incoming, "batch-001.csv"),
		dataset.Table{Header: []string{"x", "label"}, Rows: rows},
	); err != nil {
		t.Fatal(err)
	}

	pc := filepath.Join(root, "pipeline.yaml")
	if err := os.WriteFile(pc, []byte(pipelineConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	conf := try.To(orchestrator.Unmarshal([]byte(fmt.Sprintf(`
dataDir: %s
pipelineConfig: %s
registry:
  kind: memory
  artifactRoot: %s
retry:
  count: 0
transform:
  labelColumn: label
dvc:
  enabled: false
git:
  binary: %s
%s
`, dataDir, pc, filepath.Join(root, "artifacts"), filepath.Join(root, "no-such-git"), lock)))).OrFatal(t)
	return conf
}

func TestNew(t *testing.T) {
	ctx, cancel := testctx.WithTest(context.Background(), t)
	defer cancel()

	t.Run("it builds a runnable pipeline on a memory registry", func(t *testing.T) {
		conf := layout(t, "")
		sys := try.To(bootstrap.New(ctx, conf, bootstrap.Options{})).OrFatal(t)
		defer sys.Close()

		p := sys.Pipeline
		if p.ConfigPath != conf.PipelineConfig() {
			t.Errorf("ConfigPath: actual=%s, expect=%s", p.ConfigPath, conf.PipelineConfig())
		}
		if p.Retries != 0 {
			t.Errorf("Retries: actual=%d, expect=0", p.Retries)
		}
		if p.Env.IncomingDir != conf.IncomingDir() {
			t.Errorf("IncomingDir: actual=%s, expect=%s", p.Env.IncomingDir, conf.IncomingDir())
		}
		if p.Env.SplitOptions.NDaysTest != 20 {
			t.Errorf("NDaysTest: actual=%d, expect=20", p.Env.SplitOptions.NDaysTest)
		}
		if p.Env.TransformOptions.LabelColumn != "label" {
			t.Errorf("LabelColumn: actual=%s, expect=label", p.Env.TransformOptions.LabelColumn)
		}
		if p.Env.DVC.Enabled {
			t.Error("DVC should be disabled")
		}

		rec := try.To(sys.Executions.Run(ctx)).OrFatal(t)
		if rec.Status != executions.Done {
			t.Errorf("status: actual=%s, expect=%s", rec.Status, executions.Done)
		}
		if rec.Result.Decision != domain.Promote {
			t.Errorf("decision: actual=%s, expect=%s", rec.Result.Decision, domain.Promote)
		}
		if len(rec.Stages) == 0 {
			t.Error("stages should be observed")
		}

		prod := try.To(sys.Registry.Models().VersionsByStage(ctx, "churn", domain.StageProduction)).OrFatal(t)
		if len(prod) != 1 {
			t.Fatalf("production versions: actual=%+v, expect=1 version", prod)
		}

		run := try.To(sys.Registry.Runs().GetRun(ctx, prod[0].RunID)).OrFatal(t)
		if got := run.Tags[domain.TagGitHash]; got != domain.UnknownRevision {
			t.Errorf("git hash: actual=%s, expect=%s", got, domain.UnknownRevision)
		}
		if got := run.Tags[domain.TagExecution]; got != rec.ID {
			t.Errorf("execution: actual=%s, expect=%s", got, rec.ID)
		}
	})

	t.Run("without lock, executions of a process exclude each other", func(t *testing.T) {
		conf := layout(t, "lock:\n  kind: none")
		locker, closeLock, err := bootstrap.Locker(ctx, conf.Lock(), bootstrap.Options{})
		if err != nil {
			t.Fatal(err)
		}
		defer closeLock()

		lock := try.To(locker.TryLock(ctx)).OrFatal(t)
		if _, err := locker.TryLock(ctx); !errors.Is(err, runlock.ErrLocked) {
			t.Errorf("error: actual=%v, expect=%v", err, runlock.ErrLocked)
		}
		if err := lock.Unlock(ctx); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("kubernetes lock takes a Lease", func(t *testing.T) {
		conf := layout(t, "lock:\n  kind: kubernetes\n  namespace: ml\n  name: churn-training")
		client := fake.NewSimpleClientset()
		locker, closeLock, err := bootstrap.Locker(ctx, conf.Lock(), bootstrap.Options{
			KubeClient: client, Holder: "replica-a",
		})
		if err != nil {
			t.Fatal(err)
		}
		defer closeLock()

		lock := try.To(locker.TryLock(ctx)).OrFatal(t)
		lease := try.To(client.CoordinationV1().Leases("ml").Get(ctx, "churn-training", metav1.GetOptions{})).OrFatal(t)
		if h := lease.Spec.HolderIdentity; h == nil || *h != "replica-a" {
			t.Errorf("holder: actual=%v, expect=replica-a", h)
		}

		if _, err := locker.TryLock(ctx); !errors.Is(err, runlock.ErrLocked) {
			t.Errorf("error: actual=%v, expect=%v", err, runlock.ErrLocked)
		}
		if err := lock.Unlock(ctx); err != nil {
			t.Fatal(err)
		}
	})
}

func TestHolder(t *testing.T) {
	a := try.To(bootstrap.Holder()).OrFatal(t)
	b := try.To(bootstrap.Holder()).OrFatal(t)
	if a == b {
		t.Errorf("holders should differ: %s", a)
	}
}
