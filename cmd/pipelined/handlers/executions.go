package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/AlexandreManai/ML-pipeline/pkg/api/types/errors"
	apiexec "github.com/AlexandreManai/ML-pipeline/pkg/api/types/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	"github.com/AlexandreManai/ML-pipeline/pkg/runlock"
)

type Starter interface {
	Start(ctx context.Context) (executions.Record, error)
}

type Recorder interface {
	Get(id string) (executions.Record, bool)
	List() []executions.Record
}

// PostExecutionHandler starts an execution.
//
// The execution lives in serverCtx, not in the request.
func PostExecutionHandler(serverCtx context.Context, starter Starter) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")

		rec, err := starter.Start(serverCtx)
		if errors.Is(err, runlock.ErrLocked) {
			return apierr.Conflict(
				"another execution is in flight",
				apierr.WithAdvice("retry after the execution has finished."),
				apierr.WithError(err),
			)
		} else if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusAccepted, apiexec.ComposeDetail(rec))
	}
}

func GetExecutionHandler(recorder Recorder, paramExecutionId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		rec, ok := recorder.Get(c.Param(paramExecutionId))
		if !ok {
			return apierr.NotFound("records of old executions are not kept")
		}
		return c.JSON(http.StatusOK, apiexec.ComposeDetail(rec))
	}
}

func FindExecutionsHandler(recorder Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		recs := recorder.List()
		resp := make([]apiexec.Detail, 0, len(recs))
		for _, r := range recs {
			resp = append(resp, apiexec.ComposeDetail(r))
		}
		return c.JSON(http.StatusOK, resp)
	}
}
