package runs

import (
	"maps"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/rfctime"
)

// Detail is an experiment run with what was logged to it.
type Detail struct {
	RunId      string           `json:"runId"`
	Experiment string           `json:"experiment"`
	Status     string           `json:"status"`
	StartTime  rfctime.RFC3339  `json:"startTime"`
	EndTime    *rfctime.RFC3339 `json:"endTime,omitempty"`

	Params  map[string]string  `json:"params"`
	Metrics map[string]float64 `json:"metrics"`
	Tags    map[string]string  `json:"tags"`

	ArtifactURI string `json:"artifactUri"`
}

func ComposeDetail(r domain.ExperimentRun) Detail {
	var end *rfctime.RFC3339
	if r.EndTime != nil {
		e := rfctime.RFC3339(*r.EndTime)
		end = &e
	}
	params := map[string]string{}
	maps.Copy(params, r.Params)
	metrics := map[string]float64{}
	maps.Copy(metrics, r.Metrics)
	tags := map[string]string{}
	maps.Copy(tags, r.Tags)

	return Detail{
		RunId:       r.RunID,
		Experiment:  r.Experiment,
		Status:      string(r.Status),
		StartTime:   rfctime.RFC3339(r.StartTime),
		EndTime:     end,
		Params:      params,
		Metrics:     metrics,
		Tags:        tags,
		ArtifactURI: r.ArtifactURI,
	}
}

func (d *Detail) Equal(o *Detail) bool {
	if d == nil || o == nil {
		return d == nil && o == nil
	}
	return d.RunId == o.RunId &&
		d.Experiment == o.Experiment &&
		d.Status == o.Status &&
		d.StartTime.Equal(&o.StartTime) &&
		d.EndTime.Equal(o.EndTime) &&
		maps.Equal(d.Params, o.Params) &&
		maps.Equal(d.Metrics, o.Metrics) &&
		maps.Equal(d.Tags, o.Tags) &&
		d.ArtifactURI == o.ArtifactURI
}
