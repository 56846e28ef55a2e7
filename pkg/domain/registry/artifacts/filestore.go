package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

// FileStore keeps artifacts in a local directory, as
//
//	<root>/<run id>/artifacts/<path>
//
// and addresses them with file:// URIs.
type FileStore struct {
	root string
}

var _ registry.Artifacts = &FileStore{}

// New creates root if needed, and returns a FileStore on it.
func New(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: abs}, nil
}

func (f *FileStore) Root() string {
	return f.root
}

func (f *FileStore) resolve(runId string, path string) (string, error) {
	if runId == "" || strings.ContainsAny(runId, `/\`) || runId == "." || runId == ".." {
		return "", fmt.Errorf("invalid run id: %q", runId)
	}
	base := filepath.Join(f.root, runId, "artifacts")
	full := filepath.Join(base, filepath.FromSlash(path))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path escapes the run: %q", path)
	}
	return full, nil
}

func toURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func (f *FileStore) ArtifactURI(_ context.Context, runId string, path string) (string, error) {
	full, err := f.resolve(runId, path)
	if err != nil {
		return "", err
	}
	return toURI(full), nil
}

func (f *FileStore) LogArtifact(ctx context.Context, runId string, path string, content io.Reader) (string, error) {
	full, err := f.resolve(runId, path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", xe.Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", xe.Wrap(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return "", xe.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return "", xe.Wrap(err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", xe.Wrap(err)
	}
	return toURI(full), nil
}

func (f *FileStore) OpenArtifact(_ context.Context, uri string) (io.ReadCloser, error) {
	path, err := LocalPath(uri)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.Missing{Table: "artifacts", Identity: uri}
	} else if err != nil {
		return nil, xe.Wrap(err)
	}
	return file, nil
}

// LocalPath converts a file:// URI (or a plain path) to a filesystem path.
func LocalPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "":
		return filepath.FromSlash(uri), nil
	case "file":
		return filepath.FromSlash(u.Path), nil
	}
	return "", fmt.Errorf("unsupported artifact uri scheme: %s", uri)
}
