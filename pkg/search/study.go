// Package search finds hyperparameters by black-box optimization over a Space.
//
// Trials are sampled by a goptuna study with a TPE sampler: random for the
// first trials, and then guided by the scores observed so far.
package search

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
)

type Direction string

const (
	Maximize Direction = "maximize"
	Minimize Direction = "minimize"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(s)) {
	case Maximize:
		return Maximize, nil
	case Minimize:
		return Minimize, nil
	}
	return "", fmt.Errorf("direction should be %s or %s, but %q", Maximize, Minimize, s)
}

// better reports a is strictly better than b.
func (d Direction) better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}
	return a > b
}

func (d Direction) worst() float64 {
	if d == Minimize {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

func (d Direction) study() goptuna.StudyDirection {
	if d == Minimize {
		return goptuna.StudyDirectionMinimize
	}
	return goptuna.StudyDirectionMaximize
}

// Objective fits and scores a model with params.
type Objective func(ctx context.Context, params domain.TrialResult) (float64, error)

type Trial struct {
	Number int
	Params domain.TrialResult
	Score  float64

	// Err is the failure of this trial. Then Score is the worst possible.
	Err error
}

type Result struct {
	Best      domain.TrialResult
	BestScore float64
	Trials    []Trial
}

type Study struct {
	Direction Direction
	NTrials   int

	// Seed of the sampler. 0 means a seed from the clock.
	Seed int64

	// Warmup is the number of random trials before TPE. 0 means a quarter of NTrials, at most 10.
	Warmup int

	// Logger reports each trial. Nil means no logs.
	Logger *log.Logger
}

func (s Study) warmup() int {
	if 0 < s.Warmup {
		return s.Warmup
	}
	w := s.NTrials / 4
	if w < 1 {
		w = 1
	}
	if 10 < w {
		w = 10
	}
	return w
}

func (s Study) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Optimize runs NTrials trials of objective over space, and returns the best.
//
// A failed trial (error, panic or NaN score) counts as the worst score and the search goes on.
// When no trial succeeds, it returns domain.SearchExhausted.
// Cancelling ctx stops the search with ctx's error.
func (s Study) Optimize(ctx context.Context, space Space, objective Objective) (Result, error) {
	if s.NTrials <= 0 {
		return Result{}, fmt.Errorf("number of trials should be positive, but %d", s.NTrials)
	}
	if s.Direction != Maximize && s.Direction != Minimize {
		return Result{}, fmt.Errorf("unknown direction: %q", s.Direction)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	seed := s.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	study, err := goptuna.CreateStudy(
		"hyperparameter_optimization",
		goptuna.StudyOptionDirection(s.Direction.study()),
		goptuna.StudyOptionSampler(tpe.NewSampler(
			tpe.SamplerOptionSeed(seed),
			tpe.SamplerOptionNumberOfStartupTrials(s.warmup()),
		)),
		goptuna.StudyOptionLogger(nil),
	)
	if err != nil {
		return Result{}, err
	}

	result := Result{Trials: make([]Trial, 0, s.NTrials)}
	var lastErr error

	err = study.Optimize(func(t goptuna.Trial) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n := len(result.Trials)

		params, err := suggestAll(t, space)
		if err != nil {
			return 0, err
		}

		score, err := runTrial(ctx, objective, params)
		if err == nil && math.IsNaN(score) {
			err = fmt.Errorf("score is NaN")
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			lastErr = err
			result.Trials = append(result.Trials, Trial{Number: n, Params: params, Score: s.Direction.worst(), Err: err})
			s.logf("trial %d failed: %v (params: %v)", n, err, params)
			// the sampler sees the worst finite score.
			if s.Direction == Minimize {
				return math.MaxFloat64, nil
			}
			return -math.MaxFloat64, nil
		}

		result.Trials = append(result.Trials, Trial{Number: n, Params: params, Score: score})
		s.logf("trial %d: score=%v (params: %v)", n, score, params)
		if result.Best == nil || s.Direction.better(score, result.BestScore) {
			result.Best = params
			result.BestScore = score
		}
		return score, nil
	}, s.NTrials)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if err != nil {
		return result, fmt.Errorf("search is interrupted: %w", err)
	}

	if result.Best == nil {
		return result, domain.SearchExhausted{Trials: s.NTrials, Last: lastErr}
	}
	s.logf("best trial: score=%v (params: %v)", result.BestScore, result.Best)
	return result, nil
}

func runTrial(ctx context.Context, objective Objective, params domain.TrialResult) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			score = math.NaN()
			err = fmt.Errorf("trial panicked: %v", r)
		}
	}()
	return objective(ctx, params)
}
