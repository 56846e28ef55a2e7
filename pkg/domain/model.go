package domain

import (
	"fmt"
	"strings"
	"time"
)

// ModelStage is a lifecycle stage of a registered model version.
type ModelStage string

const (
	// Registered, not yet staged.
	StageNone ModelStage = "None"

	StageStaging ModelStage = "Staging"

	// The version serving live use. At most one version per model name is here.
	StageProduction ModelStage = "Production"

	// Retired. It was Production, or was pushed out by a newer version.
	StageArchived ModelStage = "Archived"
)

func (s ModelStage) String() string {
	return string(s)
}

// AsModelStage parses a stage name case-insensitively.
func AsModelStage(s string) (ModelStage, error) {
	switch strings.ToLower(s) {
	case "none":
		return StageNone, nil
	case "staging":
		return StageStaging, nil
	case "production":
		return StageProduction, nil
	case "archived":
		return StageArchived, nil
	}
	return "", fmt.Errorf("unknown model stage: %s (should be one of -- None|Staging|Production|Archived)", s)
}

// CanTransit reports whether a version in stage `from` may move to stage `to`.
//
// A Production version can leave Production only by being archived.
func CanTransit(from, to ModelStage) bool {
	if from == to {
		return false
	}
	if from == StageProduction {
		return to == StageArchived
	}
	return true
}

// ModelVersion is a registered version of a model.
type ModelVersion struct {
	Name    string
	Version int

	// RunID is the experiment run the version is registered from.
	RunID string

	// Source is the artifact location the version was registered from.
	Source string

	Stage     ModelStage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (mv ModelVersion) String() string {
	return fmt.Sprintf("%s/%d (%s, run %s)", mv.Name, mv.Version, mv.Stage, mv.RunID)
}

// TrainingArtifact identifies a trained model instance in the experiment registry.
type TrainingArtifact struct {
	RunID    string `json:"runId"`
	ModelURI string `json:"modelUri"`
}

// Decision is the outcome of the model gate.
type Decision string

const (
	Promote Decision = "promote"
	Keep    Decision = "keep"
)

func (d Decision) String() string {
	return string(d)
}

// GateState is a state of the model gate.
//
//	Evaluating --(candidate no worse)--> Promote
//	Evaluating --(candidate worse)-----> Keep
type GateState string

const (
	GateEvaluating GateState = "evaluating"
	GatePromote    GateState = "promote"
	GateKeep       GateState = "keep"
)

func (g GateState) String() string {
	return string(g)
}

// Terminal reports whether no further transition can happen from g.
func (g GateState) Terminal() bool {
	return g == GatePromote || g == GateKeep
}

// Decision maps a terminal gate state to its decision.
func (g GateState) Decision() (Decision, bool) {
	switch g {
	case GatePromote:
		return Promote, true
	case GateKeep:
		return Keep, true
	}
	return "", false
}
