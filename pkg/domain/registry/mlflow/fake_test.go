package mlflow_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/artifacts"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/memory"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/try"
	"github.com/labstack/echo/v4"
)

// fakeServer speaks a subset of the MLflow REST API, backed by the in-memory registry.
type fakeServer struct {
	mu          sync.Mutex
	reg         *memory.Registry
	experiments map[string]string // id -> name
	blobs       map[string][]byte // proxy path -> content

	Requests []string
}

type kv struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func apiError(c echo.Context, status int, code string, err error) error {
	return c.JSON(status, map[string]string{"error_code": code, "message": err.Error()})
}

func registryError(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrMissing) {
		return apiError(c, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", err)
	}
	return apiError(c, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err)
}

func (f *fakeServer) experimentId(name string) (string, bool) {
	for id, n := range f.experiments {
		if n == name {
			return id, true
		}
	}
	return "", false
}

func (f *fakeServer) runJSON(c echo.Context, runId string) (map[string]any, error) {
	run, err := f.reg.Runs().GetRun(c.Request().Context(), runId)
	if err != nil {
		return nil, err
	}
	expId, _ := f.experimentId(run.Experiment)
	info := map[string]any{
		"run_id":        run.RunID,
		"experiment_id": expId,
		"status":        string(run.Status),
		"start_time":    run.StartTime.UnixMilli(),
		"artifact_uri":  fmt.Sprintf("mlflow-artifacts:/%s/%s/artifacts", expId, run.RunID),
	}
	if run.EndTime != nil {
		info["end_time"] = run.EndTime.UnixMilli()
	}
	params := []kv{}
	for k, v := range run.Params {
		params = append(params, kv{k, v})
	}
	tags := []kv{}
	for k, v := range run.Tags {
		tags = append(tags, kv{k, v})
	}
	metrics := []map[string]any{}
	for k, v := range run.Metrics {
		metrics = append(metrics, map[string]any{"key": k, "value": v, "timestamp": 1, "step": 0})
	}
	return map[string]any{
		"info": info,
		"data": map[string]any{"params": params, "tags": tags, "metrics": metrics},
	}, nil
}

func versionJSON(mv domain.ModelVersion) map[string]any {
	return map[string]any{
		"name":                   mv.Name,
		"version":                strconv.Itoa(mv.Version),
		"creation_timestamp":     mv.CreatedAt.UnixMilli(),
		"last_updated_timestamp": mv.UpdatedAt.UnixMilli(),
		"current_stage":          string(mv.Stage),
		"source":                 mv.Source,
		"run_id":                 mv.RunID,
		"status":                 "READY",
	}
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{
		reg:         memory.New(try.To(artifacts.New(t.TempDir())).OrFatal(t)),
		experiments: map[string]string{},
		blobs:       map[string][]byte{},
	}

	e := echo.New()
	e.Pre(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.Requests = append(f.Requests, c.Request().Method+" "+c.Request().URL.Path)
			return next(c)
		}
	})

	api := func(p string) string { return "/api/2.0/mlflow/" + p }

	e.GET(api("experiments/get-by-name"), func(c echo.Context) error {
		name := c.QueryParam("experiment_name")
		id, ok := f.experimentId(name)
		if !ok {
			return apiError(c, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", fmt.Errorf("no experiment %s", name))
		}
		return c.JSON(http.StatusOK, map[string]any{"experiment": map[string]string{"experiment_id": id, "name": name}})
	})
	e.GET(api("experiments/get"), func(c echo.Context) error {
		id := c.QueryParam("experiment_id")
		name, ok := f.experiments[id]
		if !ok {
			return apiError(c, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", fmt.Errorf("no experiment %s", id))
		}
		return c.JSON(http.StatusOK, map[string]any{"experiment": map[string]string{"experiment_id": id, "name": name}})
	})
	e.POST(api("experiments/create"), func(c echo.Context) error {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if _, ok := f.experimentId(req.Name); ok {
			return apiError(c, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", fmt.Errorf("experiment %s exists", req.Name))
		}
		id := strconv.Itoa(len(f.experiments) + 1)
		f.experiments[id] = req.Name
		return c.JSON(http.StatusOK, map[string]string{"experiment_id": id})
	})

	e.POST(api("runs/create"), func(c echo.Context) error {
		var req struct {
			ExperimentId string `json:"experiment_id"`
			Tags         []kv   `json:"tags"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		name, ok := f.experiments[req.ExperimentId]
		if !ok {
			return apiError(c, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", fmt.Errorf("no experiment %s", req.ExperimentId))
		}
		tags := map[string]string{}
		for _, t := range req.Tags {
			tags[t.Key] = t.Value
		}
		run, err := f.reg.Runs().StartRun(c.Request().Context(), name, tags)
		if err != nil {
			return registryError(c, err)
		}
		body, err := f.runJSON(c, run.RunID)
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"run": body})
	})
	e.GET(api("runs/get"), func(c echo.Context) error {
		body, err := f.runJSON(c, c.QueryParam("run_id"))
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"run": body})
	})
	e.POST(api("runs/update"), func(c echo.Context) error {
		var req struct {
			RunId  string `json:"run_id"`
			Status string `json:"status"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := f.reg.Runs().EndRun(c.Request().Context(), req.RunId, domain.RunStatus(req.Status)); err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{})
	})
	e.POST(api("runs/log-parameter"), func(c echo.Context) error {
		var req struct {
			RunId string `json:"run_id"`
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := f.reg.Runs().LogParams(c.Request().Context(), req.RunId, map[string]string{req.Key: req.Value}); err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{})
	})
	e.POST(api("runs/log-metric"), func(c echo.Context) error {
		var req struct {
			RunId string  `json:"run_id"`
			Key   string  `json:"key"`
			Value float64 `json:"value"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := f.reg.Runs().LogMetric(c.Request().Context(), req.RunId, req.Key, req.Value); err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{})
	})
	e.POST(api("runs/set-tag"), func(c echo.Context) error {
		var req struct {
			RunId string `json:"run_id"`
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if err := f.reg.Runs().SetTag(c.Request().Context(), req.RunId, req.Key, req.Value); err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{})
	})

	registered := map[string]bool{}
	e.POST(api("registered-models/create"), func(c echo.Context) error {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if registered[req.Name] {
			return apiError(c, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", fmt.Errorf("model %s exists", req.Name))
		}
		registered[req.Name] = true
		return c.JSON(http.StatusOK, map[string]any{"registered_model": map[string]string{"name": req.Name}})
	})
	e.POST(api("model-versions/create"), func(c echo.Context) error {
		var req struct {
			Name   string `json:"name"`
			Source string `json:"source"`
			RunId  string `json:"run_id"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if !registered[req.Name] {
			return apiError(c, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", fmt.Errorf("no model %s", req.Name))
		}
		mv, err := f.reg.Models().RegisterModelVersion(c.Request().Context(), req.Name, req.RunId, req.Source)
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"model_version": versionJSON(mv)})
	})
	e.GET(api("model-versions/get"), func(c echo.Context) error {
		v, err := strconv.Atoi(c.QueryParam("version"))
		if err != nil {
			return apiError(c, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err)
		}
		mv, err := f.reg.Models().GetModelVersion(c.Request().Context(), c.QueryParam("name"), v)
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"model_version": versionJSON(mv)})
	})
	e.POST(api("model-versions/transition-stage"), func(c echo.Context) error {
		var req struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Stage   string `json:"stage"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		v, err := strconv.Atoi(req.Version)
		if err != nil {
			return apiError(c, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err)
		}
		mv, err := f.reg.Models().TransitionStage(c.Request().Context(), req.Name, v, domain.ModelStage(req.Stage))
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"model_version": versionJSON(mv)})
	})
	e.GET(api("model-versions/search"), func(c echo.Context) error {
		name := strings.TrimSuffix(strings.TrimPrefix(c.QueryParam("filter"), "name='"), "'")
		mvs, err := f.reg.Models().VersionsByStage(c.Request().Context(), name)
		if err != nil {
			return registryError(c, err)
		}
		ret := []map[string]any{}
		for _, mv := range mvs {
			ret = append(ret, versionJSON(mv))
		}
		return c.JSON(http.StatusOK, map[string]any{"model_versions": ret})
	})

	e.PUT("/api/2.0/mlflow-artifacts/artifacts/*", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		f.blobs[c.Param("*")] = body
		return c.JSON(http.StatusOK, map[string]any{})
	})
	e.GET("/api/2.0/mlflow-artifacts/artifacts/*", func(c echo.Context) error {
		body, ok := f.blobs[c.Param("*")]
		if !ok {
			return apiError(c, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", fmt.Errorf("no artifact %s", c.Param("*")))
		}
		return c.Blob(http.StatusOK, "application/octet-stream", body)
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return f, srv
}
