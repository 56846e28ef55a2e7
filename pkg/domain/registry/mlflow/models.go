package mlflow

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

type models struct {
	*Registry
}

func toModelVersion(mv modelVersion) (domain.ModelVersion, error) {
	v, err := strconv.Atoi(mv.Version)
	if err != nil {
		return domain.ModelVersion{}, fmt.Errorf("mlflow: version of %s is not a number: %q", mv.Name, mv.Version)
	}
	stage, err := domain.AsModelStage(mv.CurrentStage)
	if err != nil {
		return domain.ModelVersion{}, err
	}
	return domain.ModelVersion{
		Name:      mv.Name,
		Version:   v,
		RunID:     mv.RunId,
		Source:    mv.Source,
		Stage:     stage,
		CreatedAt: fromMillis(mv.CreationTimestamp),
		UpdatedAt: fromMillis(mv.LastUpdatedTimestamp),
	}, nil
}

func (m *models) RegisterModelVersion(ctx context.Context, name string, runId string, source string) (domain.ModelVersion, error) {
	if name == "" {
		return domain.ModelVersion{}, fmt.Errorf("model name is empty")
	}
	if _, err := (&runs{m.Registry}).getRun(ctx, runId); err != nil {
		return domain.ModelVersion{}, err
	}

	if _, err := post[empty](
		ctx, m.client, "registered-models/create", createRegisteredModelRequest{Name: name},
	); err != nil && !hasErrorCode(err, ResourceAlreadyExists) {
		return domain.ModelVersion{}, xe.Wrap(err)
	}

	created, err := post[modelVersionResponse](ctx, m.client, "model-versions/create", createModelVersionRequest{
		Name: name, Source: source, RunId: runId,
	})
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return toModelVersion(created.ModelVersion)
}

func (m *models) VersionsByStage(ctx context.Context, name string, stages ...domain.ModelStage) ([]domain.ModelVersion, error) {
	ret := []domain.ModelVersion{}

	q := url.Values{
		"filter":      {fmt.Sprintf("name='%s'", strings.ReplaceAll(name, "'", `\'`))},
		"max_results": {"200"},
	}
	for {
		resp, err := get[searchModelVersionsResponse](ctx, m.client, "model-versions/search", q)
		if err != nil {
			if hasErrorCode(err, ResourceDoesNotExist) {
				return ret, nil
			}
			return nil, xe.Wrap(err)
		}
		for _, raw := range resp.ModelVersions {
			mv, err := toModelVersion(raw)
			if err != nil {
				return nil, xe.Wrap(err)
			}
			if mv.Name != name {
				continue
			}
			if len(stages) == 0 || containsStage(stages, mv.Stage) {
				ret = append(ret, mv)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		q.Set("page_token", resp.NextPageToken)
	}

	sort.Slice(ret, func(i, j int) bool { return ret[i].Version < ret[j].Version })
	return ret, nil
}

func containsStage(stages []domain.ModelStage, s domain.ModelStage) bool {
	for _, x := range stages {
		if x == s {
			return true
		}
	}
	return false
}

func (m *models) GetModelVersion(ctx context.Context, name string, version int) (domain.ModelVersion, error) {
	resp, err := get[modelVersionResponse](ctx, m.client, "model-versions/get", url.Values{
		"name": {name}, "version": {strconv.Itoa(version)},
	})
	if err != nil {
		if hasErrorCode(err, ResourceDoesNotExist) {
			return domain.ModelVersion{}, domain.Missing{
				Table: "model_version", Identity: fmt.Sprintf("%s/%d", name, version),
			}
		}
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return toModelVersion(resp.ModelVersion)
}

// TransitionStage refuses a second Production version, checking before the transition.
//
// The tracking server itself does not refuse it. Concurrent transitions should be serialized by callers.
func (m *models) TransitionStage(ctx context.Context, name string, version int, stage domain.ModelStage) (domain.ModelVersion, error) {
	current, err := m.GetModelVersion(ctx, name, version)
	if err != nil {
		return domain.ModelVersion{}, err
	}
	if current.Stage == stage {
		return current, nil
	}
	if !domain.CanTransit(current.Stage, stage) {
		return domain.ModelVersion{}, domain.NewErrInvalidStageTransition(current.Stage, stage)
	}
	if stage == domain.StageProduction {
		prod, err := m.VersionsByStage(ctx, name, domain.StageProduction)
		if err != nil {
			return domain.ModelVersion{}, err
		}
		if len(prod) != 0 {
			return domain.ModelVersion{}, fmt.Errorf(
				"%w: version %d is in Production already",
				domain.NewErrInvalidStageTransition(current.Stage, stage), prod[0].Version,
			)
		}
	}

	resp, err := post[modelVersionResponse](ctx, m.client, "model-versions/transition-stage", transitionStageRequest{
		Name:                    name,
		Version:                 strconv.Itoa(version),
		Stage:                   string(stage),
		ArchiveExistingVersions: false,
	})
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return toModelVersion(resp.ModelVersion)
}
