package hook

import (
	"context"
	"errors"

	cfg_hook "github.com/AlexandreManai/ML-pipeline/pkg/configs/hook"
)

// Hook is an interface for before/after hooks.
type Hook[T any, R any] interface {
	// Before is called before the value T is processed.
	//
	// When it returns an error, T should not be processed.
	Before(context.Context, T) (R, error)

	// After is called after the value T is processed.
	After(context.Context, T) error
}

var ErrHookFailed = errors.New("hook failed")

// Build creates a webhook from configuration.
//
// If no URLs are configured, it returns None.
func Build[T any](cfg cfg_hook.WebHook) Hook[T, struct{}] {
	if cfg.Empty() {
		return None[T]{}
	}
	return Web[T, struct{}]{
		BeforeURL: cfg.Before,
		AfterURL:  cfg.After,
		Merge:     func(struct{}, struct{}) struct{} { return struct{}{} },
	}
}
