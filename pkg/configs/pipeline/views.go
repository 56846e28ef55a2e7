package pipeline

import (
	"fmt"
	"sort"
)

// General is the `general_config` section.
type General struct {
	GitEmail       string
	GitName        string
	ModelName      string
	ExperimentName string
}

// General reads `general_config` for stage.
//
// `model_name` is required. `mlflow_experiment_name` defaults to "experiment".
func (c *Config) General(stage string) (General, error) {
	s, err := c.Section(stage, SectionGeneral)
	if err != nil {
		return General{}, err
	}

	ret := General{}
	if ret.GitEmail, err = s.String("git_email", ""); err != nil {
		return General{}, err
	}
	if ret.GitName, err = s.String("git_name", ""); err != nil {
		return General{}, err
	}
	if ret.ModelName, err = s.RequiredString("model_name"); err != nil {
		return General{}, err
	}
	if ret.ExperimentName, err = s.String("mlflow_experiment_name", "experiment"); err != nil {
		return General{}, err
	}
	return ret, nil
}

// ModelTraining is the `model_training` section.
type ModelTraining struct {
	// UseSearch selects hyperparameters from the search stage instead of Params.
	UseSearch bool

	// Params are static hyperparameters: every option except the search flag.
	Params map[string]any
}

var searchFlags = []string{"optuna", "use_search"}

// ModelTraining reads `model_training` for stage.
//
// The search flag is `optuna` or `use_search`, false when both are absent.
func (c *Config) ModelTraining(stage string) (ModelTraining, error) {
	s, err := c.Section(stage, SectionModelTraining)
	if err != nil {
		return ModelTraining{}, err
	}

	ret := ModelTraining{Params: s.Values()}
	for _, flag := range searchFlags {
		b, err := s.Bool(flag, false)
		if err != nil {
			return ModelTraining{}, err
		}
		ret.UseSearch = ret.UseSearch || b
		delete(ret.Params, flag)
	}
	return ret, nil
}

// ParamSpec is a declared hyperparameter in `hyperparameter_optimization`.
//
//	C: {type: float, args: [0.1, 2]}
//	C: {type: float, args: {low: 0.001, high: 10, log: true}}
type ParamSpec struct {
	Name string
	Type string

	// Positional args, when `args` is a list.
	Args []any

	// Named args, when `args` is a mapping.
	Options map[string]any
}

// HyperparameterOptimization is the `hyperparameter_optimization` section.
type HyperparameterOptimization struct {
	Direction string
	NTrials   int

	// Seed of the sampler. 0 means non-deterministic.
	Seed int64

	// Space is ordered by name.
	Space []ParamSpec
}

const DefaultNTrials = 100

var hpoReserved = map[string]bool{"direction": true, "n_trials": true, "seed": true}

// HyperparameterOptimization reads `hyperparameter_optimization` for stage.
func (c *Config) HyperparameterOptimization(stage string) (HyperparameterOptimization, error) {
	s, err := c.Section(stage, SectionHyperparameterOptimization)
	if err != nil {
		return HyperparameterOptimization{}, err
	}

	ret := HyperparameterOptimization{}
	if ret.Direction, err = s.String("direction", "maximize"); err != nil {
		return HyperparameterOptimization{}, err
	}
	if ret.NTrials, err = s.Int("n_trials", DefaultNTrials); err != nil {
		return HyperparameterOptimization{}, err
	}
	if ret.NTrials <= 0 {
		return HyperparameterOptimization{}, s.invalid("n_trials", "should be positive, but %d", ret.NTrials)
	}
	seed, err := s.Int("seed", 0)
	if err != nil {
		return HyperparameterOptimization{}, err
	}
	ret.Seed = int64(seed)

	for _, name := range s.Keys() {
		if hpoReserved[name] {
			continue
		}
		spec, err := parseParamSpec(s, name)
		if err != nil {
			return HyperparameterOptimization{}, err
		}
		ret.Space = append(ret.Space, spec)
	}
	sort.Slice(ret.Space, func(i, j int) bool { return ret.Space[i].Name < ret.Space[j].Name })
	return ret, nil
}

func parseParamSpec(s Section, name string) (ParamSpec, error) {
	raw, _ := s.Lookup(name)
	m, ok := raw.(map[string]any)
	if !ok {
		return ParamSpec{}, s.invalid(name, "should be a mapping {type, args}, but %T", raw)
	}
	typ, ok := m["type"].(string)
	if !ok || typ == "" {
		return ParamSpec{}, s.invalid(name, "type is required")
	}

	spec := ParamSpec{Name: name, Type: typ}
	switch args := m["args"].(type) {
	case []any:
		spec.Args = args
	case map[string]any:
		spec.Options = args
	case nil:
	default:
		return ParamSpec{}, s.invalid(name, "args should be a list or a mapping, but %T", args)
	}
	return spec, nil
}

// ModelValidation is the optional `model_validation` section.
type ModelValidation struct {
	// Floor is the minimum score a candidate needs when there is no production model.
	Floor float64
}

// ModelValidation reads `model_validation`. When it is absent, Floor is 0.
func (c *Config) ModelValidation() (ModelValidation, error) {
	s, ok := c.OptionalSection(SectionModelValidation)
	if !ok {
		return ModelValidation{}, nil
	}
	floor, err := s.Float("floor", 0)
	if err != nil {
		return ModelValidation{}, err
	}
	if floor < 0 || 1 < floor {
		return ModelValidation{}, s.invalid("floor", "should be in [0, 1], but %v", floor)
	}
	return ModelValidation{Floor: floor}, nil
}

func (p ParamSpec) String() string {
	if p.Options != nil {
		return fmt.Sprintf("%s{type: %s, args: %v}", p.Name, p.Type, p.Options)
	}
	return fmt.Sprintf("%s{type: %s, args: %v}", p.Name, p.Type, p.Args)
}
