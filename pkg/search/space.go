package search

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/c-bata/goptuna"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
)

// Param is a hyperparameter domain: one of FloatRange, IntRange or Categorical.
type Param interface {
	Name() string
	param()
}

// FloatRange is a float in [Low, High], sampled uniformly or log-uniformly.
type FloatRange struct {
	Label string
	Low   float64
	High  float64
	Log   bool
}

// IntRange is an int in [Low, High] on a grid of Step from Low.
type IntRange struct {
	Label string
	Low   int
	High  int
	Step  int
}

// Categorical is one of Choices.
type Categorical struct {
	Label   string
	Choices []any
}

func (f FloatRange) Name() string  { return f.Label }
func (i IntRange) Name() string    { return i.Label }
func (c Categorical) Name() string { return c.Label }

func (FloatRange) param()  {}
func (IntRange) param()    {}
func (Categorical) param() {}

// Space is an ordered set of Params.
type Space []Param

// InvalidParam tells a declared hyperparameter cannot be a Param.
type InvalidParam struct {
	Name   string
	Reason string
}

func (e InvalidParam) Error() string {
	return fmt.Sprintf("hyperparameter %s: %s", e.Name, e.Reason)
}

// NewSpace converts declarations into a Space, keeping their order.
func NewSpace(specs []pipeline.ParamSpec) (Space, error) {
	space := make(Space, 0, len(specs))
	for _, spec := range specs {
		p, err := FromSpec(spec)
		if err != nil {
			return nil, err
		}
		space = append(space, p)
	}
	return space, nil
}

// FromSpec converts a declaration into a Param.
//
// Types are "float", "int" and "categorical" (also with "suggest_" prefix).
// Positional args are [low, high, log|step] for ranges and the choices for categorical.
// Named args are low, high, log, step and choices.
func FromSpec(spec pipeline.ParamSpec) (Param, error) {
	invalid := func(format string, args ...any) error {
		return InvalidParam{Name: spec.Name, Reason: fmt.Sprintf(format, args...)}
	}

	arg := func(pos int, name string) (any, bool) {
		if spec.Options != nil {
			v, ok := spec.Options[name]
			return v, ok
		}
		if pos < len(spec.Args) {
			return spec.Args[pos], true
		}
		return nil, false
	}

	switch strings.TrimPrefix(strings.ToLower(spec.Type), "suggest_") {
	case "float", "uniform", "loguniform":
		lowv, ok1 := arg(0, "low")
		highv, ok2 := arg(1, "high")
		low, okl := pipeline.AsFloat(lowv)
		high, okh := pipeline.AsFloat(highv)
		if !(ok1 && ok2 && okl && okh) {
			return nil, invalid("float needs numeric low and high")
		}
		f := FloatRange{Label: spec.Name, Low: low, High: high, Log: strings.HasSuffix(spec.Type, "loguniform")}
		if v, ok := arg(2, "log"); ok {
			b, isBool := v.(bool)
			if !isBool {
				return nil, invalid("log should be a boolean, but %T", v)
			}
			f.Log = b
		}
		if math.IsNaN(low) || math.IsNaN(high) || high < low {
			return nil, invalid("range [%v, %v] is empty", low, high)
		}
		if f.Log && low <= 0 {
			return nil, invalid("log range should be positive, but low is %v", low)
		}
		return f, nil

	case "int":
		lowv, ok1 := arg(0, "low")
		highv, ok2 := arg(1, "high")
		low, okl := pipeline.AsInt(lowv)
		high, okh := pipeline.AsInt(highv)
		if !(ok1 && ok2 && okl && okh) {
			return nil, invalid("int needs integer low and high")
		}
		if high < low {
			return nil, invalid("range [%d, %d] is empty", low, high)
		}
		i := IntRange{Label: spec.Name, Low: low, High: high, Step: 1}
		if v, ok := arg(2, "step"); ok {
			step, isInt := pipeline.AsInt(v)
			if !isInt || step <= 0 {
				return nil, invalid("step should be a positive integer, but %v", v)
			}
			i.Step = step
		}
		return i, nil

	case "categorical":
		var choices []any
		if spec.Options != nil {
			c, ok := spec.Options["choices"].([]any)
			if !ok {
				return nil, invalid("categorical needs a list of choices")
			}
			choices = c
		} else if len(spec.Args) == 1 {
			if c, ok := spec.Args[0].([]any); ok {
				choices = c
			} else {
				choices = spec.Args
			}
		} else {
			choices = spec.Args
		}
		if len(choices) == 0 {
			return nil, invalid("categorical needs at least one choice")
		}
		return Categorical{Label: spec.Name, Choices: choices}, nil
	}
	return nil, invalid("unknown type %q", spec.Type)
}

// suggestAll asks t a value of each Param in space.
func suggestAll(t goptuna.Trial, space Space) (domain.TrialResult, error) {
	params := domain.TrialResult{}
	for _, p := range space {
		v, err := suggest(t, p)
		if err != nil {
			return nil, fmt.Errorf("hyperparameter %s: %w", p.Name(), err)
		}
		params[p.Name()] = v
	}
	return params, nil
}

// suggest asks t a value of p. Degenerate domains have the only value without asking.
func suggest(t goptuna.Trial, p Param) (any, error) {
	switch p := p.(type) {
	case FloatRange:
		if p.Low == p.High {
			return p.Low, nil
		}
		var v float64
		var err error
		if p.Log {
			v, err = t.SuggestLogFloat(p.Label, p.Low, p.High)
		} else {
			v, err = t.SuggestFloat(p.Label, p.Low, p.High)
		}
		if err != nil {
			return nil, err
		}
		return p.clamp(v), nil
	case IntRange:
		high := p.top()
		if p.Low == high {
			return p.Low, nil
		}
		if p.Step == 1 {
			return t.SuggestInt(p.Label, p.Low, high)
		}
		return t.SuggestStepInt(p.Label, p.Low, high, p.Step)
	case Categorical:
		if len(p.Choices) == 1 {
			return p.Choices[0], nil
		}
		labels := make([]string, len(p.Choices))
		for i := range p.Choices {
			labels[i] = strconv.Itoa(i)
		}
		l, err := t.SuggestCategorical(p.Label, labels)
		if err != nil {
			return nil, err
		}
		i, err := strconv.Atoi(l)
		if err != nil || i < 0 || len(p.Choices) <= i {
			return nil, fmt.Errorf("unknown choice %q", l)
		}
		return p.Choices[i], nil
	}
	return nil, fmt.Errorf("unknown param type %T", p)
}

// clamp puts v in [Low, High]. Log-uniform draws can overshoot by rounding.
func (f FloatRange) clamp(v float64) float64 {
	return math.Max(f.Low, math.Min(f.High, v))
}

// top is the largest value on the grid.
func (i IntRange) top() int {
	return i.Low + (i.High-i.Low)/i.Step*i.Step
}
