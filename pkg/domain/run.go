package domain

import (
	"fmt"
	"strconv"
	"time"
)

// RunStatus is a status of an experiment run.
type RunStatus string

const (
	RunRunning  RunStatus = "RUNNING"
	RunFinished RunStatus = "FINISHED"
	RunFailed   RunStatus = "FAILED"
	RunKilled   RunStatus = "KILLED"
)

func (s RunStatus) String() string {
	return string(s)
}

// Terminal reports whether the run has ended.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

func AsRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunFinished, RunFailed, RunKilled:
		return RunStatus(s), nil
	}
	return "", fmt.Errorf("unknown run status: %s (should be one of -- RUNNING|FINISHED|FAILED|KILLED)", s)
}

// Well-known param, metric and tag names logged on runs.
const (
	// metric: seconds spent to fit the model
	MetricFitDuration = "fit_duration"

	// metric: accuracy of the model on the test split, logged by the gate
	MetricValidationScore = "validation_score"

	// tag: source-control revision of the pipeline
	TagGitHash = "git_hash"

	// tag: the gate decision
	TagDecision = "gate_decision"

	// tag: id of the pipeline execution the run belongs to
	TagExecution = "pipeline_execution"
)

// UnknownRevision is the revision tag value when the revision can not be obtained.
const UnknownRevision = "unknown"

// ModelArtifactPath is where a trained model is logged, relative to the run's artifact root.
const ModelArtifactPath = "model/model.json"

// RunModelURI is the registry-independent location of the model of a run.
func RunModelURI(runId string) string {
	return "runs:/" + runId + "/model"
}

// ExperimentRun is a record of a run in the experiment registry.
type ExperimentRun struct {
	RunID      string
	Experiment string
	Status     RunStatus
	StartTime  time.Time

	// EndTime is nil while running.
	EndTime *time.Time

	Params  map[string]string
	Metrics map[string]float64
	Tags    map[string]string

	// ArtifactURI is the root location of the run's artifacts.
	ArtifactURI string
}

// Metric returns a logged metric.
func (r ExperimentRun) Metric(key string) (float64, bool) {
	v, ok := r.Metrics[key]
	return v, ok
}

// TrialResult is a mapping of hyperparameter names to chosen values.
//
// Values are float64, int or string.
type TrialResult map[string]any

// Float returns a numeric parameter as float64.
func (t TrialResult) Float(name string) (float64, bool) {
	switch v := t[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Int returns a numeric parameter as int. Floats are truncated.
func (t TrialResult) Int(name string) (int, bool) {
	switch v := t[name].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Strings formats all parameters for logging to the registry.
func (t TrialResult) Strings() map[string]string {
	ret := make(map[string]string, len(t))
	for k, v := range t {
		switch x := v.(type) {
		case float64:
			ret[k] = strconv.FormatFloat(x, 'g', -1, 64)
		case int:
			ret[k] = strconv.Itoa(x)
		default:
			ret[k] = fmt.Sprint(x)
		}
	}
	return ret
}
