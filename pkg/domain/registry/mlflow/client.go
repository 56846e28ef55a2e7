// Package mlflow is a registry backed by an MLflow tracking server, over its REST API.
//
// Artifacts go through the tracking server's artifact proxy (mlflow-artifacts: URIs).
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
)

// error codes of MLflow.
const (
	ResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	ResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	InvalidParameterValue = "INVALID_PARAMETER_VALUE"
)

// APIError is an error response from the tracking server.
type APIError struct {
	Status    int    `json:"-"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mlflow: %s (status code = %d): %s", e.ErrorCode, e.Status, e.Message)
}

// Is makes APIError for missing resources match domain.ErrMissing.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrMissing && e.ErrorCode == ResourceDoesNotExist
}

func hasErrorCode(err error, code string) bool {
	apierr := new(APIError)
	return errors.As(err, &apierr) && apierr.ErrorCode == code
}

type client struct {
	httpclient *http.Client
	api        string
}

// build URL with path
func (c *client) apipath(path ...string) string {
	trimmed := make([]string, 0, len(path)+1)
	trimmed = append(trimmed, c.api)
	for _, p := range path {
		trimmed = append(trimmed, strings.Trim(p, "/"))
	}
	return strings.Join(trimmed, "/")
}

func (c *client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mlflow: status code = %d, cannot read server message: %w", resp.StatusCode, err)
	}
	apierr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apierr); err != nil || apierr.ErrorCode == "" {
		apierr.ErrorCode = http.StatusText(resp.StatusCode)
		apierr.Message = string(body)
	}
	if resp.StatusCode == http.StatusNotFound && apierr.ErrorCode == http.StatusText(http.StatusNotFound) {
		apierr.ErrorCode = ResourceDoesNotExist
	}
	return nil, apierr
}

func decode[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("mlflow: unexpected response (status code = %d): %w", resp.StatusCode, err)
	}
	return v, nil
}

// post sends payload as JSON to an endpoint under /api/2.0/mlflow, and decodes the response.
func post[T any](ctx context.Context, c *client, endpoint string, payload any) (T, error) {
	var zero T
	body, err := json.Marshal(payload)
	if err != nil {
		return zero, err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.apipath("api/2.0/mlflow", endpoint), bytes.NewReader(body),
	)
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return zero, err
	}
	return decode[T](resp)
}

// get queries an endpoint under /api/2.0/mlflow, and decodes the response.
func get[T any](ctx context.Context, c *client, endpoint string, query url.Values) (T, error) {
	var zero T
	u := c.apipath("api/2.0/mlflow", endpoint)
	if len(query) != 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, err
	}
	resp, err := c.do(req)
	if err != nil {
		return zero, err
	}
	return decode[T](resp)
}

type Registry struct {
	client *client
	now    func() time.Time
}

var _ registry.Registry = &Registry{}

type Option func(*Registry) *Registry

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Registry) *Registry {
		r.client.httpclient = hc
		return r
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) *Registry {
		r.now = now
		return r
	}
}

// New returns a Registry talking to the tracking server at trackingURI (like "http://mlflow:5000").
func New(trackingURI string, options ...Option) (*Registry, error) {
	u, err := url.Parse(trackingURI)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("mlflow: tracking URI should be http(s): %s", trackingURI)
	}
	r := &Registry{
		client: &client{httpclient: http.DefaultClient, api: strings.TrimSuffix(trackingURI, "/")},
		now:    time.Now,
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r, nil
}

func (r *Registry) Runs() registry.Runs {
	return &runs{r}
}

func (r *Registry) Models() registry.Models {
	return &models{r}
}

func (r *Registry) Artifacts() registry.Artifacts {
	return &artifacts{r}
}

func (r *Registry) Close() {
	r.client.httpclient.CloseIdleConnections()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
