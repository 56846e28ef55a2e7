package pipeline_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/try"
)

const fullDocument = `
general_config:
  git_email: ci@example.com
  git_name: ci-bot
  model_name: churn
  mlflow_experiment_name: ${general_config.model_name}-experiment
model_training:
  optuna: false
  C: 1.0
  iterations: 1000
hyperparameter_optimization:
  direction: maximize
  n_trials: 5
  C:
    type: float
    args: [0.1, 2]
  iterations:
    type: int
    args: [100, 110]
model_validation:
  floor: 0.5
`

func TestUnmarshal(t *testing.T) {
	t.Run("it resolves interpolations", func(t *testing.T) {
		conf := try.To(pipeline.Unmarshal([]byte(fullDocument))).OrFatal(t)

		general := try.To(conf.General("test")).OrFatal(t)
		expected := pipeline.General{
			GitEmail:       "ci@example.com",
			GitName:        "ci-bot",
			ModelName:      "churn",
			ExperimentName: "churn-experiment",
		}
		if general != expected {
			t.Errorf("general: actual=%+v, expect=%+v", general, expected)
		}
	})

	t.Run("a whole-string reference keeps the type", func(t *testing.T) {
		conf := try.To(pipeline.Unmarshal([]byte(`
defaults:
  c: 0.25
  search: true
model_training:
  C: ${defaults.c}
  optuna: ${defaults.search}
`))).OrFatal(t)

		mt := try.To(conf.ModelTraining("test")).OrFatal(t)
		if !mt.UseSearch {
			t.Error("UseSearch should be true")
		}
		if c, ok := mt.Params["C"].(float64); !ok || c != 0.25 {
			t.Errorf("C: actual=%#v", mt.Params["C"])
		}
	})

	t.Run("environment references", func(t *testing.T) {
		t.Setenv("PIPELINE_TEST_EMAIL", "env@example.com")
		conf := try.To(pipeline.Unmarshal([]byte(`
general_config:
  git_email: ${env:PIPELINE_TEST_EMAIL}
  git_name: ${oc.env:PIPELINE_TEST_UNSET_NAME,fallback}
  model_name: m
`))).OrFatal(t)

		general := try.To(conf.General("test")).OrFatal(t)
		if general.GitEmail != "env@example.com" {
			t.Errorf("git_email: actual=%s", general.GitEmail)
		}
		if general.GitName != "fallback" {
			t.Errorf("git_name: actual=%s", general.GitName)
		}
	})

	for name, doc := range map[string]string{
		"missing path": `
general_config:
  model_name: ${nowhere.at_all}
`,
		"unset environment variable": `
general_config:
  model_name: ${env:PIPELINE_TEST_SURELY_UNSET_VARIABLE}
`,
		"circular": `
a:
  x: ${b.y}
b:
  y: ${a.x}
`,
		"malformed": `
a:
  x: "prefix ${unterminated"
`,
		"mapping embedded in string": `
a:
  x: "value is ${b}"
b:
  y: 1
`,
	} {
		t.Run("it rejects "+name, func(t *testing.T) {
			_, err := pipeline.Unmarshal([]byte(doc))
			if !errors.Is(err, pipeline.ErrUnresolvedReference) {
				t.Errorf("error: actual=%v, expect=%v", err, pipeline.ErrUnresolvedReference)
			}
		})
	}

	t.Run("it does not share state with callers", func(t *testing.T) {
		conf := try.To(pipeline.Unmarshal([]byte(fullDocument))).OrFatal(t)
		raw := conf.Raw()
		raw["general_config"].(map[string]any)["model_name"] = "tampered"

		general := try.To(conf.General("test")).OrFatal(t)
		if general.ModelName != "churn" {
			t.Errorf("config is mutated: %s", general.ModelName)
		}
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullDocument), 0o644); err != nil {
		t.Fatal(err)
	}
	conf := try.To(pipeline.Load(path)).OrFatal(t)

	expected := []string{
		"general_config", "hyperparameter_optimization", "model_training", "model_validation",
	}
	if actual := conf.Sections(); !reflect.DeepEqual(actual, expected) {
		t.Errorf("sections: actual=%v, expect=%v", actual, expected)
	}

	if _, err := pipeline.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("no error for a missing file")
	}
}

// Every stage view fails with ConfigSectionMissing, and nothing else,
// whichever required section is removed.
func TestSectionMissing(t *testing.T) {
	views := map[string]func(*pipeline.Config) error{
		pipeline.SectionGeneral: func(c *pipeline.Config) error {
			_, err := c.General("model_training")
			return err
		},
		pipeline.SectionModelTraining: func(c *pipeline.Config) error {
			_, err := c.ModelTraining("model_training")
			return err
		},
		pipeline.SectionHyperparameterOptimization: func(c *pipeline.Config) error {
			_, err := c.HyperparameterOptimization("hyperparameter_optimization")
			return err
		},
	}

	for removed := range views {
		for section, view := range views {
			name := "without " + removed + ", reading " + section
			t.Run(name, func(t *testing.T) {
				raw := try.To(pipeline.Unmarshal([]byte(fullDocument))).OrFatal(t).Raw()
				delete(raw, removed)
				conf := try.To(pipeline.New(raw)).OrFatal(t)

				err := view(conf)
				if section != removed {
					if err != nil {
						t.Errorf("unexpected error: %v", err)
					}
					return
				}

				var csm domain.ConfigSectionMissing
				if !errors.As(err, &csm) {
					t.Fatalf("error: actual=%v, expect ConfigSectionMissing", err)
				}
				if csm.Section != removed {
					t.Errorf("section: actual=%s, expect=%s", csm.Section, removed)
				}
			})
		}
	}

	t.Run("a null section is missing", func(t *testing.T) {
		conf := try.To(pipeline.Unmarshal([]byte("model_training:\n"))).OrFatal(t)
		if _, err := conf.ModelTraining("model_training"); !errors.Is(err, domain.ErrConfigSectionMissing) {
			t.Errorf("error: actual=%v", err)
		}
	})

	t.Run("a section which is not a mapping is missing", func(t *testing.T) {
		conf := try.To(pipeline.Unmarshal([]byte("model_training: [C]\n"))).OrFatal(t)
		if _, err := conf.ModelTraining("model_training"); !errors.Is(err, domain.ErrConfigSectionMissing) {
			t.Errorf("error: actual=%v", err)
		}
	})

	t.Run("an empty mapping is a section with defaults", func(t *testing.T) {
		conf := try.To(pipeline.Unmarshal([]byte("model_training: {}\n"))).OrFatal(t)
		mt := try.To(conf.ModelTraining("model_training")).OrFatal(t)
		if mt.UseSearch {
			t.Errorf("UseSearch: actual=%v, expect=false", mt.UseSearch)
		}
		if len(mt.Params) != 0 {
			t.Errorf("Params: actual=%v, expect=empty", mt.Params)
		}
		if _, ok := conf.OptionalSection("model_training"); !ok {
			t.Error("model_training should be present")
		}
	})
}

func TestModelTraining(t *testing.T) {
	type Then struct {
		useSearch bool
		params    map[string]any
	}
	theory := func(doc string, then Then) func(*testing.T) {
		return func(t *testing.T) {
			conf := try.To(pipeline.Unmarshal([]byte(doc))).OrFatal(t)
			mt := try.To(conf.ModelTraining("model_training")).OrFatal(t)
			if mt.UseSearch != then.useSearch {
				t.Errorf("UseSearch: actual=%v, expect=%v", mt.UseSearch, then.useSearch)
			}
			if !reflect.DeepEqual(mt.Params, then.params) {
				t.Errorf("Params: actual=%#v, expect=%#v", mt.Params, then.params)
			}
		}
	}

	t.Run("optuna flag", theory(
		"model_training: {optuna: true, C: 1.0}",
		Then{useSearch: true, params: map[string]any{"C": 1.0}},
	))
	t.Run("use_search flag", theory(
		"model_training: {use_search: true, iterations: 10}",
		Then{useSearch: true, params: map[string]any{"iterations": 10}},
	))
	t.Run("no flag", theory(
		"model_training: {C: 2.0}",
		Then{useSearch: false, params: map[string]any{"C": 2.0}},
	))
}

func TestHyperparameterOptimization(t *testing.T) {
	t.Run("it reads the space", func(t *testing.T) {
		conf := try.To(pipeline.Unmarshal([]byte(`
hyperparameter_optimization:
  direction: minimize
  seed: 42
  solver: {type: categorical, args: [lbfgs, saga]}
  C: {type: float, args: {low: 0.001, high: 10, log: true}}
`))).OrFatal(t)

		hpo := try.To(conf.HyperparameterOptimization("test")).OrFatal(t)
		if hpo.Direction != "minimize" {
			t.Errorf("direction: actual=%s", hpo.Direction)
		}
		if hpo.NTrials != pipeline.DefaultNTrials {
			t.Errorf("n_trials: actual=%d, expect=%d", hpo.NTrials, pipeline.DefaultNTrials)
		}
		if hpo.Seed != 42 {
			t.Errorf("seed: actual=%d", hpo.Seed)
		}
		if len(hpo.Space) != 2 || hpo.Space[0].Name != "C" || hpo.Space[1].Name != "solver" {
			t.Fatalf("space: actual=%v", hpo.Space)
		}
		if hpo.Space[0].Options["log"] != true {
			t.Errorf("C options: actual=%v", hpo.Space[0].Options)
		}
		if !reflect.DeepEqual(hpo.Space[1].Args, []any{"lbfgs", "saga"}) {
			t.Errorf("solver args: actual=%v", hpo.Space[1].Args)
		}
	})

	for name, doc := range map[string]string{
		"non-positive n_trials": "hyperparameter_optimization: {n_trials: 0}",
		"param without type":    "hyperparameter_optimization: {C: {args: [1, 2]}}",
		"param not a mapping":   "hyperparameter_optimization: {C: 1.0}",
	} {
		t.Run("it rejects "+name, func(t *testing.T) {
			conf := try.To(pipeline.Unmarshal([]byte(doc))).OrFatal(t)
			_, err := conf.HyperparameterOptimization("test")
			var invalid pipeline.InvalidOption
			if !errors.As(err, &invalid) {
				t.Errorf("error: actual=%v, expect InvalidOption", err)
			}
		})
	}
}

func TestModelValidation(t *testing.T) {
	conf := try.To(pipeline.Unmarshal([]byte(fullDocument))).OrFatal(t)
	mv := try.To(conf.ModelValidation()).OrFatal(t)
	if mv.Floor != 0.5 {
		t.Errorf("floor: actual=%v", mv.Floor)
	}

	empty := try.To(pipeline.Unmarshal([]byte("general_config: {model_name: m}"))).OrFatal(t)
	if mv := try.To(empty.ModelValidation()).OrFatal(t); mv.Floor != 0 {
		t.Errorf("default floor: actual=%v", mv.Floor)
	}
}
