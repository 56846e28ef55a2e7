package gate_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/artifacts"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/memory"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/mock"
	"github.com/AlexandreManai/ML-pipeline/pkg/estimator"
	"github.com/AlexandreManai/ML-pipeline/pkg/gate"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/try"
)

func ptr[T any](v T) *T {
	return &v
}

func TestPolicy_Decide(t *testing.T) {
	type When struct {
		floor      float64
		candidate  float64
		production *float64
	}

	theory := func(when When, then domain.Decision) func(*testing.T) {
		return func(t *testing.T) {
			actual := gate.Policy{Floor: when.floor}.Decide(when.candidate, when.production)
			if actual != then {
				t.Errorf("decision: actual=%s, expect=%s", actual, then)
			}
		}
	}

	t.Run("equal metrics promote", theory(When{candidate: 0.8, production: ptr(0.8)}, domain.Promote))
	t.Run("better candidate promotes", theory(When{candidate: 0.81, production: ptr(0.8)}, domain.Promote))
	t.Run("worse candidate keeps", theory(When{candidate: 0.75, production: ptr(0.8)}, domain.Keep))
	t.Run("floor does not apply with production", theory(When{floor: 0.9, candidate: 0.85, production: ptr(0.8)}, domain.Promote))
	t.Run("first run promotes", theory(When{candidate: 0.1}, domain.Promote))
	t.Run("first run on the floor promotes", theory(When{floor: 0.5, candidate: 0.5}, domain.Promote))
	t.Run("first run under the floor keeps", theory(When{floor: 0.5, candidate: 0.49}, domain.Keep))
	t.Run("NaN candidate keeps", theory(When{candidate: math.NaN()}, domain.Keep))
	t.Run("NaN production is compared as floor", theory(When{floor: 0.5, candidate: 0.6, production: ptr(math.NaN())}, domain.Promote))
}

func TestTransit(t *testing.T) {
	if s, err := gate.Transit(domain.GateEvaluating, domain.Promote); err != nil || s != domain.GatePromote {
		t.Errorf("evaluating + promote: actual=(%s, %v), expect=(%s, nil)", s, err, domain.GatePromote)
	}
	if s, err := gate.Transit(domain.GateEvaluating, domain.Keep); err != nil || s != domain.GateKeep {
		t.Errorf("evaluating + keep: actual=(%s, %v), expect=(%s, nil)", s, err, domain.GateKeep)
	}
	for _, from := range []domain.GateState{domain.GatePromote, domain.GateKeep} {
		if _, err := gate.Transit(from, domain.Promote); !errors.Is(err, gate.ErrInvalidGateTransition) {
			t.Errorf("%s + promote: actual=%v, expect=%v", from, err, gate.ErrInvalidGateTransition)
		}
	}
	if _, err := gate.Transit(domain.GateEvaluating, domain.Decision("maybe")); !errors.Is(err, gate.ErrInvalidGateTransition) {
		t.Errorf("unknown decision: actual=%v, expect=%v", err, gate.ErrInvalidGateTransition)
	}
}

// thresholdModel predicts "pos" for x > th.
func thresholdModel(th float64) estimator.Model {
	return &estimator.LogisticRegressionModel{
		ClassLabels: []string{"neg", "pos"},
		Mean:        []float64{0},
		Scale:       []float64{1},
		Weights:     [][]float64{{-1}, {1}},
		Intercepts:  []float64{0, -2 * th},
		C:           1,
		Iterations:  1,
	}
}

// testSplit is x = 0..9, labelled "pos" for x >= 5.
//
// thresholdModel(4.5) scores 1.0, thresholdModel(6.5) 0.8, thresholdModel(7.5) 0.7.
func testSplit() ([][]float64, []string) {
	x := [][]float64{}
	y := []string{}
	for i := 0; i < 10; i++ {
		x = append(x, []float64{float64(i)})
		if 5 <= i {
			y = append(y, "pos")
		} else {
			y = append(y, "neg")
		}
	}
	return x, y
}

func train(t *testing.T, reg registry.Registry, m estimator.Model) domain.TrainingArtifact {
	t.Helper()
	ctx := context.Background()
	run := try.To(reg.Runs().StartRun(ctx, "exp", nil)).OrFatal(t)
	buf := new(bytes.Buffer)
	if err := estimator.Save(buf, m); err != nil {
		t.Fatal(err)
	}
	uri := try.To(reg.Artifacts().LogArtifact(ctx, run.RunID, domain.ModelArtifactPath, buf)).OrFatal(t)
	return domain.TrainingArtifact{RunID: run.RunID, ModelURI: uri}
}

func promote(t *testing.T, reg registry.Registry, model string, ta domain.TrainingArtifact, source string) domain.ModelVersion {
	t.Helper()
	ctx := context.Background()
	mv := try.To(reg.Models().RegisterModelVersion(ctx, model, ta.RunID, source)).OrFatal(t)
	return try.To(reg.Models().TransitionStage(ctx, model, mv.Version, domain.StageProduction)).OrFatal(t)
}

func newRegistry(t *testing.T) registry.Registry {
	store := try.To(artifacts.New(t.TempDir())).OrFatal(t)
	return memory.New(store)
}

func TestGate_Evaluate(t *testing.T) {
	ctx := context.Background()
	x, y := testSplit()

	t.Run("first run promotes and logs the score", func(t *testing.T) {
		reg := newRegistry(t)
		candidate := train(t, reg, thresholdModel(6.5))

		g := &gate.Gate{Registry: reg}
		ev := try.To(g.Evaluate(ctx, "m", candidate, x, y)).OrFatal(t)

		if ev.State != domain.GatePromote || ev.Production != nil {
			t.Errorf("evaluation: actual=%s, expect promote without production", ev)
		}
		if ev.Score != 0.8 {
			t.Errorf("score: actual=%v, expect=0.8", ev.Score)
		}
		run := try.To(reg.Runs().GetRun(ctx, candidate.RunID)).OrFatal(t)
		if s, _ := run.Metric(domain.MetricValidationScore); s != 0.8 {
			t.Errorf("logged score: actual=%v, expect=0.8", s)
		}
		if d := run.Tags[domain.TagDecision]; d != "promote" {
			t.Errorf("decision tag: actual=%s, expect=promote", d)
		}
	})

	t.Run("first run under the floor keeps", func(t *testing.T) {
		reg := newRegistry(t)
		candidate := train(t, reg, thresholdModel(7.5))

		g := &gate.Gate{Registry: reg, Policy: gate.Policy{Floor: 0.75}}
		ev := try.To(g.Evaluate(ctx, "m", candidate, x, y)).OrFatal(t)
		if ev.Decision() != domain.Keep {
			t.Errorf("decision: actual=%s, expect=keep", ev.Decision())
		}
	})

	t.Run("worse candidate than the rescored production keeps", func(t *testing.T) {
		reg := newRegistry(t)
		prod := train(t, reg, thresholdModel(6.5))
		mv := promote(t, reg, "m", prod, prod.ModelURI)

		candidate := train(t, reg, thresholdModel(7.5))
		g := &gate.Gate{Registry: reg}
		ev := try.To(g.Evaluate(ctx, "m", candidate, x, y)).OrFatal(t)

		if ev.Decision() != domain.Keep {
			t.Errorf("decision: actual=%s, expect=keep", ev.Decision())
		}
		if ev.Production == nil || !ev.Production.Rescored || ev.Production.Score != 0.8 || ev.Production.Version.Version != mv.Version {
			t.Errorf("baseline: actual=%+v, expect rescored 0.8 of version %d", ev.Production, mv.Version)
		}
	})

	t.Run("equally good candidate promotes", func(t *testing.T) {
		reg := newRegistry(t)
		prod := train(t, reg, thresholdModel(6.5))
		promote(t, reg, "m", prod, domain.RunModelURI(prod.RunID))

		candidate := train(t, reg, thresholdModel(6.6))
		g := &gate.Gate{Registry: reg}
		ev := try.To(g.Evaluate(ctx, "m", candidate, x, y)).OrFatal(t)
		if ev.Decision() != domain.Promote || ev.Production == nil || !ev.Production.Rescored {
			t.Errorf("evaluation: actual=%s, expect promote against rescored production", ev)
		}
	})

	t.Run("unloadable production falls back to its logged score", func(t *testing.T) {
		reg := newRegistry(t)
		prod := train(t, reg, thresholdModel(4.5))
		if err := reg.Runs().LogMetric(ctx, prod.RunID, domain.MetricValidationScore, 0.75); err != nil {
			t.Fatal(err)
		}
		promote(t, reg, "m", prod, "file:///no/such/model.json")

		candidate := train(t, reg, thresholdModel(6.5))
		g := &gate.Gate{Registry: reg}
		ev := try.To(g.Evaluate(ctx, "m", candidate, x, y)).OrFatal(t)

		if ev.Production == nil || ev.Production.Rescored || ev.Production.Score != 0.75 {
			t.Errorf("baseline: actual=%+v, expect logged 0.75", ev.Production)
		}
		if ev.Decision() != domain.Promote {
			t.Errorf("decision: actual=%s, expect=promote", ev.Decision())
		}
	})

	t.Run("unusable production is treated as none", func(t *testing.T) {
		reg := newRegistry(t)
		prod := train(t, reg, thresholdModel(4.5))
		promote(t, reg, "m", prod, "file:///no/such/model.json")

		candidate := train(t, reg, thresholdModel(7.5))
		g := &gate.Gate{Registry: reg, Policy: gate.Policy{Floor: 0.5}}
		ev := try.To(g.Evaluate(ctx, "m", candidate, x, y)).OrFatal(t)
		if ev.Production != nil || ev.Decision() != domain.Promote {
			t.Errorf("evaluation: actual=%s, expect promote without production", ev)
		}
	})

	t.Run("failure of finding production is treated as none", func(t *testing.T) {
		base := newRegistry(t)
		candidate := train(t, base, thresholdModel(6.5))

		models := &mock.Models{}
		models.Impl.VersionsByStage = func(context.Context, string, ...domain.ModelStage) ([]domain.ModelVersion, error) {
			return nil, errors.New("registry is down")
		}
		reg := registry.New(base.Runs(), models, base.Artifacts(), nil)

		g := &gate.Gate{Registry: reg}
		ev := try.To(g.Evaluate(ctx, "m", candidate, x, y)).OrFatal(t)
		if ev.Production != nil || ev.Decision() != domain.Promote {
			t.Errorf("evaluation: actual=%s, expect promote without production", ev)
		}
		if models.Calls.VersionsByStage.Times() != 1 {
			t.Errorf("VersionsByStage is called %d times", models.Calls.VersionsByStage.Times())
		}
	})

	t.Run("missing candidate model is an error", func(t *testing.T) {
		reg := newRegistry(t)
		run := try.To(reg.Runs().StartRun(ctx, "exp", nil)).OrFatal(t)

		g := &gate.Gate{Registry: reg}
		ev, err := g.Evaluate(ctx, "m", domain.TrainingArtifact{RunID: run.RunID}, x, y)
		if err == nil {
			t.Fatal("no error")
		}
		if ev.State != domain.GateEvaluating {
			t.Errorf("state: actual=%s, expect=%s", ev.State, domain.GateEvaluating)
		}
	})
}
