package hook

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
)

// Web is a webhook for before/after hooks.
type Web[T any, R any] struct {
	// BeforeURL is a list of URLs to call before processing the value T.
	//
	// The value T is sent as a JSON payload for each URL, in order.
	// If and only if all of the URLs return a 2xx status code, the hook proceeds.
	BeforeURL []*url.URL

	// AfterURL is a list of URLs to call after processing the value T.
	AfterURL []*url.URL

	// Merge folds responses of BeforeURL.
	Merge func(a, b R) R

	// Client sends requests. http.DefaultClient if nil.
	Client *http.Client
}

func (w Web[T, R]) client() *http.Client {
	if w.Client == nil {
		return http.DefaultClient
	}
	return w.Client
}

func (w Web[T, R]) send(ctx context.Context, url string, payload []byte) (R, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return *new(R), errors.Join(err, ErrHookFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client().Do(req)
	if err != nil {
		return *new(R), errors.Join(err, ErrHookFailed)
	}
	defer resp.Body.Close()

	ctype := resp.Header.Get("Content-Type")
	if 200 <= resp.StatusCode && resp.StatusCode < 300 {
		r := new(R)
		if strings.HasPrefix(ctype, "application/json") {
			if err := json.NewDecoder(resp.Body).Decode(r); err != nil && !errors.Is(err, io.EOF) {
				return *new(R), errors.Join(err, ErrHookFailed)
			}
		}
		return *r, nil
	}

	if !strings.HasPrefix(ctype, "text/") && !(strings.HasPrefix(ctype, "application/") && strings.Contains(ctype, "json")) {
		return *new(R), fmt.Errorf(
			"%w (%s %d, Content-Type: %s)",
			ErrHookFailed, url, resp.StatusCode, ctype,
		)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return *new(R), fmt.Errorf(
		"%w (%s %d, Content-Type: %s): %s",
		ErrHookFailed, url, resp.StatusCode, ctype, string(body),
	)
}

func (w Web[T, R]) call(ctx context.Context, value T, urls []*url.URL) (R, error) {
	if len(urls) == 0 {
		return *new(R), nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return *new(R), err
	}

	var acc R
	for i, u := range urls {
		r, err := w.send(ctx, u.String(), payload)
		if err != nil {
			return *new(R), err
		}
		if i == 0 || w.Merge == nil {
			acc = r
			continue
		}
		acc = w.Merge(acc, r)
	}
	return acc, nil
}

func (w Web[T, R]) Before(ctx context.Context, value T) (R, error) {
	return w.call(ctx, value, w.BeforeURL)
}

func (w Web[T, R]) After(ctx context.Context, value T) error {
	_, err := w.call(ctx, value, w.AfterURL)
	return err
}
