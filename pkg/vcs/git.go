package vcs

import (
	"context"
	"log"
	"strings"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
)

// Identity is the author of commits.
type Identity struct {
	Name  string
	Email string
}

// Env sets the identity to git by environment variables. An empty field is left unset.
func (i Identity) Env() []string {
	env := []string{}
	if i.Name != "" {
		env = append(env, "GIT_AUTHOR_NAME="+i.Name, "GIT_COMMITTER_NAME="+i.Name)
	}
	if i.Email != "" {
		env = append(env, "GIT_AUTHOR_EMAIL="+i.Email, "GIT_COMMITTER_EMAIL="+i.Email)
	}
	return env
}

type Git struct {
	Runner Runner
	Binary string
	Dir    string
}

func (g Git) cmd(env []string, args ...string) Command {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	return Command{Dir: g.Dir, Env: env, Name: bin, Args: args}
}

// Revision returns the commit hash of HEAD, or domain.UnknownRevision when it cannot.
//
// Failures are logged, not returned.
func (g Git) Revision(ctx context.Context, logger *log.Logger) string {
	out, err := g.Runner.Run(ctx, g.cmd(nil, "rev-parse", "--verify", "HEAD"))
	rev := strings.TrimSpace(string(out))
	if err != nil || rev == "" {
		if logger != nil {
			logger.Printf("source revision is unknown: %v", err)
		}
		return domain.UnknownRevision
	}
	return rev
}

func (g Git) Add(ctx context.Context, paths ...string) error {
	_, err := g.Runner.Run(ctx, g.cmd(nil, append([]string{"add", "--"}, paths...)...))
	return err
}

func (g Git) Commit(ctx context.Context, author Identity, message string) error {
	_, err := g.Runner.Run(ctx, g.cmd(author.Env(), "commit", "-m", message))
	return err
}
