package main

import (
	"context"
	"net/url"
	"path"

	"github.com/labstack/echo/v4"

	"github.com/AlexandreManai/ML-pipeline/cmd/pipelined/handlers"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	"github.com/AlexandreManai/ML-pipeline/pkg/echoutil"
	"github.com/AlexandreManai/ML-pipeline/pkg/executions"
	kstrings "github.com/AlexandreManai/ML-pipeline/pkg/utils/strings"
)

// routes registers the API on e.
//
// Executions started by the API live in ctx.
func routes(
	ctx context.Context,
	e *echo.Echo,
	reg registry.Registry,
	m *executions.Manager,
	tokenSecret string,
) error {
	api, err := root("/api")
	if err != nil {
		return err
	}

	e.GET(api("health"), handlers.HealthHandler())

	e.GET(
		api("models/:modelName/versions"),
		handlers.FindModelVersionsHandler(reg.Models(), "modelName"),
	)
	e.GET(api("runs/:runId"), handlers.GetRunHandler(reg.Runs(), "runId"))

	e.GET(api("executions"), handlers.FindExecutionsHandler(m))
	e.POST(
		api("executions"),
		handlers.PostExecutionHandler(ctx, m),
		echoutil.BearerAuth([]byte(tokenSecret)),
	)
	e.GET(api("executions/:executionId"), handlers.GetExecutionHandler(m, "executionId"))
	return nil
}

func root(r string) (func(...string) string, error) {
	origin := "" // https://example.org:8080/ . "/" terminated. if r is path only, this is empty.
	base := ""   // /api/root/path
	{
		b, err := url.Parse(r)
		if err != nil {
			return nil, err
		}
		base = b.Path
		if b.Host != "" || b.Scheme != "" {
			_r := *b
			r := &_r
			r.RawPath = ""
			r.Path = ""
			r.RawQuery = ""
			r.Fragment = ""
			origin = r.String()
		}
	}
	origin = kstrings.SuppySuffix(origin, "/")

	return func(s ...string) string {
		parts := make([]string, len(s)+1)
		parts[0] = base
		copy(parts[1:], s)
		path := path.Join(parts...)
		path = kstrings.TrimPrefixAll(path, "/")

		return kstrings.SuppySuffix(origin+path, "/")
	}, nil
}
