package mlflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

const artifactScheme = "mlflow-artifacts"

type artifacts struct {
	*Registry
}

func (a *artifacts) ArtifactURI(ctx context.Context, runId string, path string) (string, error) {
	got, err := (&runs{a.Registry}).getRun(ctx, runId)
	if err != nil {
		return "", err
	}
	root := strings.TrimSuffix(got.Info.ArtifactUri, "/")
	path = strings.Trim(path, "/")
	if path == "" {
		return root, nil
	}
	return root + "/" + path, nil
}

// proxyPath returns the path of uri in the artifact proxy.
func proxyPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != artifactScheme {
		return "", fmt.Errorf("mlflow: unsupported artifact URI (only %s: is supported): %s", artifactScheme, uri)
	}
	p := strings.TrimPrefix(u.Path, "/")
	if p == "" || strings.Contains("/"+p+"/", "/../") {
		return "", fmt.Errorf("mlflow: invalid artifact URI: %s", uri)
	}
	return p, nil
}

func (a *artifacts) LogArtifact(ctx context.Context, runId string, path string, content io.Reader) (string, error) {
	uri, err := a.ArtifactURI(ctx, runId, path)
	if err != nil {
		return "", err
	}
	p, err := proxyPath(uri)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPut, a.client.apipath("api/2.0/mlflow-artifacts/artifacts", p), content,
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := a.client.do(req)
	if err != nil {
		return "", xe.Wrap(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return uri, nil
}

func (a *artifacts) OpenArtifact(ctx context.Context, uri string) (io.ReadCloser, error) {
	p, err := proxyPath(uri)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, a.client.apipath("api/2.0/mlflow-artifacts/artifacts", p), nil,
	)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		if hasErrorCode(err, ResourceDoesNotExist) {
			return nil, domain.Missing{Table: "artifact", Identity: uri}
		}
		return nil, xe.Wrap(err)
	}
	return resp.Body, nil
}
