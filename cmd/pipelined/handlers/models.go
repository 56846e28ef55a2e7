package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/AlexandreManai/ML-pipeline/pkg/api/types/errors"
	apimodels "github.com/AlexandreManai/ML-pipeline/pkg/api/types/models"
	apiruns "github.com/AlexandreManai/ML-pipeline/pkg/api/types/runs"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	kstrings "github.com/AlexandreManai/ML-pipeline/pkg/utils/strings"
)

func HealthHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

// FindModelVersionsHandler lists versions of a registered model.
//
// Query "stage" filters versions by comma separated stages.
func FindModelVersionsHandler(models registry.Models, paramModelName string) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		name := c.Param(paramModelName)
		ctx := c.Request().Context()

		stages := []domain.ModelStage{}
		for _, s := range kstrings.SplitIfNotEmpty(c.QueryParam("stage"), ",") {
			st, err := domain.AsModelStage(s)
			if err != nil {
				return apierr.BadRequest(
					`"stage" should be one of "None", "Staging", "Production" or "Archived"`,
					err,
				)
			}
			stages = append(stages, st)
		}

		versions, err := models.VersionsByStage(ctx, name, stages...)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		resp := make([]apimodels.Version, 0, len(versions))
		for _, v := range versions {
			resp = append(resp, apimodels.ComposeVersion(v))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func GetRunHandler(runs registry.Runs, paramRunId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		runId := c.Param(paramRunId)
		ctx := c.Request().Context()

		run, err := runs.GetRun(ctx, runId)
		if errors.Is(err, domain.ErrMissing) {
			return apierr.NotFound(fmt.Sprintf("run %s is not recorded in the registry", runId))
		} else if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apiruns.ComposeDetail(run))
	}
}
