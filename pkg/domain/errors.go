package domain

import (
	"errors"
	"fmt"
)

var (
	// a configuration section a stage needs is absent.
	ErrConfigSectionMissing = errors.New("configuration section missing")

	// a DataFileSet entry a stage needs has not been produced.
	ErrRequiredArtifactMissing = errors.New("required artifact missing")

	// an external command line tool (git, dvc) is not installed.
	ErrExternalToolUnavailable = errors.New("external tool unavailable")

	// no trial of a hyperparameter search has succeeded.
	ErrSearchExhausted = errors.New("search exhausted")

	// a call to the experiment/model registry has failed.
	ErrRegistryOperationFailed = errors.New("registry operation failed")

	// promotion ended without exactly one Production version.
	ErrNoProductionVersion = errors.New("no single production version")

	// requested entity is not found in a registry.
	ErrMissing = errors.New("missing")

	ErrInvalidStageTransition = errors.New("cannot change model version stage")
)

type ConfigSectionMissing struct {
	Stage   string
	Section string
}

var _ error = ConfigSectionMissing{}

func (c ConfigSectionMissing) Error() string {
	if c.Stage == "" {
		return fmt.Sprintf("%s: %s", ErrConfigSectionMissing, c.Section)
	}
	return fmt.Sprintf("%s: %s (required by %s)", ErrConfigSectionMissing, c.Section, c.Stage)
}

func (c ConfigSectionMissing) Unwrap() error {
	return ErrConfigSectionMissing
}

type RequiredArtifactMissing struct {
	Stage string
	Key   DataFileKey

	// Path is empty when the key is not declared.
	Path string
}

var _ error = RequiredArtifactMissing{}

func (r RequiredArtifactMissing) Error() string {
	if r.Path == "" {
		return fmt.Sprintf("%s: %s is not declared (required by %s)", ErrRequiredArtifactMissing, r.Key, r.Stage)
	}
	return fmt.Sprintf("%s: %s (%s) does not exist (required by %s)", ErrRequiredArtifactMissing, r.Key, r.Path, r.Stage)
}

func (r RequiredArtifactMissing) Unwrap() error {
	return ErrRequiredArtifactMissing
}

type ExternalToolUnavailable struct {
	Tool string
	Err  error
}

var _ error = ExternalToolUnavailable{}

func (e ExternalToolUnavailable) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrExternalToolUnavailable, e.Tool)
	}
	return fmt.Sprintf("%s: %s: %s", ErrExternalToolUnavailable, e.Tool, e.Err)
}

func (e ExternalToolUnavailable) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExternalToolUnavailable}
	}
	return []error{ErrExternalToolUnavailable, e.Err}
}

type SearchExhausted struct {
	Trials int

	// error of the last failed trial
	Last error
}

var _ error = SearchExhausted{}

func (s SearchExhausted) Error() string {
	if s.Last == nil {
		return fmt.Sprintf("%s: no successful trial in %d", ErrSearchExhausted, s.Trials)
	}
	return fmt.Sprintf("%s: no successful trial in %d (last: %s)", ErrSearchExhausted, s.Trials, s.Last)
}

func (s SearchExhausted) Unwrap() error {
	return ErrSearchExhausted
}

type RegistryOperationFailed struct {
	// Op names the registry operation, like "archive", "register" or "promote".
	Op      string
	Model   string
	Version int
	Err     error
}

var _ error = RegistryOperationFailed{}

func (r RegistryOperationFailed) Error() string {
	subject := r.Model
	if r.Version != 0 {
		subject = fmt.Sprintf("%s version %d", r.Model, r.Version)
	}
	if r.Err == nil {
		return fmt.Sprintf("%s: %s %s", ErrRegistryOperationFailed, r.Op, subject)
	}
	return fmt.Sprintf("%s: %s %s: %s", ErrRegistryOperationFailed, r.Op, subject, r.Err)
}

func (r RegistryOperationFailed) Unwrap() []error {
	if r.Err == nil {
		return []error{ErrRegistryOperationFailed}
	}
	return []error{ErrRegistryOperationFailed, r.Err}
}

// requested entity is not found.
type Missing struct {
	Table    string
	Identity string
}

var _ error = Missing{}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}

func (m Missing) Unwrap() error {
	return ErrMissing
}

func NewErrInvalidStageTransition(from, to ModelStage) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStageTransition, from, to)
}
