// Package pipeline loads the configuration document of a training pipeline.
//
// The document is YAML with top level sections:
//
//	general_config:
//	  git_email: ci@example.com
//	  git_name: ci
//	  model_name: churn
//	  mlflow_experiment_name: ${general_config.model_name}
//	model_training:
//	  optuna: false
//	  C: 1.0
//	  iterations: 1000
//	hyperparameter_optimization:
//	  direction: maximize
//	  n_trials: 100
//	  C: {type: float, args: [0.1, 2]}
//	  iterations: {type: int, args: [100, 110]}
//
// Interpolations `${section.key}` and `${env:NAME}` (or `${oc.env:NAME,default}`)
// are resolved at load time. The loaded Config has no unresolved reference,
// and is immutable.
package pipeline

import (
	"fmt"
	"os"
	"sort"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"gopkg.in/yaml.v3"
)

const (
	SectionGeneral                    = "general_config"
	SectionModelTraining              = "model_training"
	SectionHyperparameterOptimization = "hyperparameter_optimization"
	SectionModelValidation            = "model_validation"
)

// Config is a resolved pipeline configuration.
type Config struct {
	root map[string]any
}

// Load reads a configuration document from a file.
func Load(filepath string) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

// Unmarshal parses and resolves a configuration document.
func Unmarshal(content []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	return New(raw)
}

// New resolves a nested mapping into Config.
//
// raw is not modified.
func New(raw map[string]any) (*Config, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	r := &resolver{root: raw, lookupEnv: os.LookupEnv, visiting: map[string]bool{}}
	resolved, err := r.resolve(raw, "")
	if err != nil {
		return nil, err
	}
	root, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("configuration root should be a mapping, but %T", resolved)
	}
	return &Config{root: root}, nil
}

// Sections returns the names of top level sections, sorted.
func (c *Config) Sections() []string {
	names := make([]string, 0, len(c.root))
	for k := range c.root {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Raw returns a deep copy of the resolved mapping.
func (c *Config) Raw() map[string]any {
	return deepCopy(c.root).(map[string]any)
}

func (c *Config) MarshalYAML() (any, error) {
	return c.Raw(), nil
}

// Section returns a top level section which stage requires.
//
// When the section is absent, null or not a mapping, it returns ConfigSectionMissing.
// An empty mapping is a section where every value takes its default.
func (c *Config) Section(stage string, name string) (Section, error) {
	s, ok := c.lookupSection(name)
	if !ok {
		return Section{}, domain.ConfigSectionMissing{Stage: stage, Section: name}
	}
	return s, nil
}

// OptionalSection returns a top level section, or false if it is absent.
func (c *Config) OptionalSection(name string) (Section, bool) {
	return c.lookupSection(name)
}

func (c *Config) lookupSection(name string) (Section, bool) {
	v, ok := c.root[name]
	if !ok || v == nil {
		return Section{}, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Section{}, false
	}
	return Section{name: name, values: m}, true
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		ret := make(map[string]any, len(x))
		for k, vv := range x {
			ret[k] = deepCopy(vv)
		}
		return ret
	case []any:
		ret := make([]any, len(x))
		for i, vv := range x {
			ret[i] = deepCopy(vv)
		}
		return ret
	default:
		return x
	}
}
