package vcs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
)

// UpToDate is what `dvc status` says when nothing changed.
const UpToDate = "Data and pipelines are up to date."

const RemoteName = "dvc_remote"

// Tracker versions data files with DVC, committing the .dvc files to git.
type Tracker struct {
	Runner Runner
	Binary string

	// HomeDir holds .dvc. It is in a git work tree.
	HomeDir string

	// Remote is the default DVC remote, set up on initialization.
	Remote string

	Git    Git
	Author Identity

	Logger *log.Logger
	Now    func() time.Time
}

// TrackResult tells what Track has done.
type TrackResult struct {
	Initialized bool

	// Changed is true when a new dataset version is committed and pushed.
	Changed bool
	Message string
}

func (t *Tracker) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
	}
}

func (t *Tracker) dvc(args ...string) Command {
	bin := t.Binary
	if bin == "" {
		bin = "dvc"
	}
	return Command{Dir: t.HomeDir, Name: bin, Args: args}
}

// Available checks the DVC command works.
func (t *Tracker) Available(ctx context.Context) error {
	out, err := t.Runner.Run(ctx, t.dvc("--version"))
	if err != nil {
		if errors.Is(err, domain.ErrExternalToolUnavailable) {
			return err
		}
		return domain.ExternalToolUnavailable{Tool: t.dvc().Name, Err: err}
	}
	if strings.TrimSpace(string(out)) == "" {
		return domain.ExternalToolUnavailable{Tool: t.dvc().Name, Err: fmt.Errorf("no version reported")}
	}
	return nil
}

// Initialized reports HomeDir has .dvc.
func (t *Tracker) Initialized() (bool, error) {
	_, err := os.Stat(filepath.Join(t.HomeDir, ".dvc"))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Init creates a DVC repository in HomeDir with the default remote, and commits it.
func (t *Tracker) Init(ctx context.Context) error {
	t.logf("initializing DVC repository in %s", t.HomeDir)
	if _, err := t.Runner.Run(ctx, t.dvc("init", "--subdir")); err != nil {
		return err
	}
	remote := t.Remote
	if remote == "" {
		remote = filepath.Join(t.HomeDir, RemoteName)
	}
	if _, err := t.Runner.Run(ctx, t.dvc("remote", "add", "-d", RemoteName, remote)); err != nil {
		return err
	}
	if err := t.Git.Add(ctx, filepath.Join(t.HomeDir, ".dvc")); err != nil {
		return err
	}
	if err := t.Git.Commit(ctx, t.Author, "dvc setup"); err != nil {
		return err
	}
	t.logf("DVC setup committed to git")
	return nil
}

// Track records a new version of file when DVC reports a change.
//
// Tracking the same content again is a no-op.
func (t *Tracker) Track(ctx context.Context, file string) (TrackResult, error) {
	result := TrackResult{}

	if err := t.Available(ctx); err != nil {
		return result, err
	}

	initialized, err := t.Initialized()
	if err != nil {
		return result, err
	}
	if !initialized {
		if err := t.Init(ctx); err != nil {
			return result, err
		}
		result.Initialized = true
	}

	// a never-added file is reported as up to date, so it is checked by its .dvc file.
	_, statErr := os.Stat(file + ".dvc")
	neverAdded := errors.Is(statErr, os.ErrNotExist)

	status, err := t.Runner.Run(ctx, t.dvc("status"))
	if err != nil {
		return result, err
	}
	if !neverAdded && strings.TrimSpace(string(status)) == UpToDate {
		t.logf("dataset did not change. nothing to track.")
		return result, nil
	}
	t.logf("data update detected")

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	message := "adding dataset version " + now().Format("2006/01/02-15:04:05")

	if _, err := t.Runner.Run(ctx, t.dvc("add", file)); err != nil {
		return result, err
	}
	if err := t.Git.Add(ctx, file+".dvc"); err != nil {
		return result, err
	}
	if err := t.Git.Commit(ctx, t.Author, message); err != nil {
		return result, err
	}
	if _, err := t.Runner.Run(ctx, t.dvc("push")); err != nil {
		return result, err
	}
	t.logf("pushed data to remote")

	result.Changed = true
	result.Message = message
	return result, nil
}
