package executions

import (
	"maps"
	"slices"

	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/rfctime"
)

// Detail is a pipeline execution.
type Detail struct {
	ExecutionId string           `json:"executionId"`
	Status      string           `json:"status"`
	StartedAt   rfctime.RFC3339  `json:"startedAt"`
	FinishedAt  *rfctime.RFC3339 `json:"finishedAt,omitempty"`

	// Stages maps stage names to their states.
	Stages map[string]string `json:"stages"`

	Candidate *Candidate `json:"candidate,omitempty"`
	Decision  string     `json:"decision,omitempty"`
	Promoted  *int       `json:"promotedVersion,omitempty"`
	Archived  []int      `json:"archivedVersions,omitempty"`

	Error string `json:"error,omitempty"`
}

type Candidate struct {
	RunId    string `json:"runId"`
	ModelURI string `json:"modelUri"`
}

func ComposeDetail(rec executions.Record) Detail {
	d := Detail{
		ExecutionId: rec.ID,
		Status:      rec.Status.String(),
		StartedAt:   rfctime.RFC3339(rec.StartedAt),
		Stages:      map[string]string{},
		Decision:    rec.Result.Decision.String(),
	}
	if rec.FinishedAt != nil {
		f := rfctime.RFC3339(*rec.FinishedAt)
		d.FinishedAt = &f
	}
	for k, v := range rec.Stages {
		d.Stages[k] = v.String()
	}
	if c := rec.Result.Candidate; c != nil {
		d.Candidate = &Candidate{RunId: c.RunID, ModelURI: c.ModelURI}
	}
	if p := rec.Result.Promotion; p != nil {
		v := p.Promoted.Version
		d.Promoted = &v
		for _, a := range p.Archived {
			d.Archived = append(d.Archived, a.Version)
		}
	}
	if rec.Err != nil {
		d.Error = rec.Err.Error()
	}
	return d
}

func (d *Detail) Equal(o *Detail) bool {
	if d == nil || o == nil {
		return d == nil && o == nil
	}
	promotedEq := (d.Promoted == nil) == (o.Promoted == nil) &&
		(d.Promoted == nil || *d.Promoted == *o.Promoted)
	candidateEq := (d.Candidate == nil) == (o.Candidate == nil) &&
		(d.Candidate == nil || *d.Candidate == *o.Candidate)

	return d.ExecutionId == o.ExecutionId &&
		d.Status == o.Status &&
		d.StartedAt.Equal(&o.StartedAt) &&
		d.FinishedAt.Equal(o.FinishedAt) &&
		maps.Equal(d.Stages, o.Stages) &&
		candidateEq &&
		d.Decision == o.Decision &&
		promotedEq &&
		slices.Equal(d.Archived, o.Archived) &&
		d.Error == o.Error
}

