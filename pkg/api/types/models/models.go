package models

import (
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/rfctime"
)

// Version is a registered model version.
type Version struct {
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Stage     string          `json:"stage"`
	RunId     string          `json:"runId"`
	Source    string          `json:"source"`
	CreatedAt rfctime.RFC3339 `json:"createdAt"`
	UpdatedAt rfctime.RFC3339 `json:"updatedAt"`
}

func ComposeVersion(mv domain.ModelVersion) Version {
	return Version{
		Name:      mv.Name,
		Version:   mv.Version,
		Stage:     mv.Stage.String(),
		RunId:     mv.RunID,
		Source:    mv.Source,
		CreatedAt: rfctime.RFC3339(mv.CreatedAt),
		UpdatedAt: rfctime.RFC3339(mv.UpdatedAt),
	}
}

func (v *Version) Equal(o *Version) bool {
	if v == nil || o == nil {
		return v == nil && o == nil
	}
	return v.Name == o.Name &&
		v.Version == o.Version &&
		v.Stage == o.Stage &&
		v.RunId == o.RunId &&
		v.Source == o.Source &&
		v.CreatedAt.Equal(&o.CreatedAt) &&
		v.UpdatedAt.Equal(&o.UpdatedAt)
}
