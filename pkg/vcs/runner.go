// Package vcs drives version control tools (git and DVC) as subprocesses.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
)

// Command is a subprocess invocation.
type Command struct {
	Dir  string
	Env  []string // added to the environment of this process
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs Commands and returns their stdout.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// CommandFailed is a command exited with non-zero status.
type CommandFailed struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (c *CommandFailed) Error() string {
	return fmt.Sprintf("`%s` exited with %d: %s", c.Command, c.ExitCode, strings.TrimSpace(c.Stderr))
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Logger reports commands. Nil means no logs.
	Logger *log.Logger
}

var _ Runner = ExecRunner{}

// Run runs cmd.
//
// A missing executable is domain.ExternalToolUnavailable. A non-zero exit is *CommandFailed.
func (r ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) != 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	c.Stdout = stdout
	c.Stderr = stderr

	if r.Logger != nil {
		r.Logger.Printf("run: %s (in %s)", cmd, cmd.Dir)
	}
	if err := c.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, domain.ExternalToolUnavailable{Tool: cmd.Name, Err: err}
		}
		if ee := new(exec.ExitError); errors.As(err, &ee) {
			return stdout.Bytes(), &CommandFailed{Command: cmd.String(), ExitCode: ee.ExitCode(), Stderr: stderr.String()}
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}
