package artifacts_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain/registry/artifacts"
	"github.com/AlexandreManai/ML-pipeline/pkg/utils/try"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	testee := try.To(artifacts.New(root)).OrFatal(t)

	t.Run("it stores and reads artifacts", func(t *testing.T) {
		uri := try.To(testee.LogArtifact(ctx, "run-1", "model/model.json", strings.NewReader(`{"k": 1}`))).OrFatal(t)

		expected := try.To(testee.ArtifactURI(ctx, "run-1", "model/model.json")).OrFatal(t)
		if uri != expected {
			t.Errorf("uri: actual=%s, expect=%s", uri, expected)
		}
		if !strings.HasPrefix(uri, "file://") {
			t.Errorf("uri is not file://: %s", uri)
		}
		local := try.To(artifacts.LocalPath(uri)).OrFatal(t)
		if local != filepath.Join(testee.Root(), "run-1", "artifacts", "model", "model.json") {
			t.Errorf("local path: %s", local)
		}

		r := try.To(testee.OpenArtifact(ctx, uri)).OrFatal(t)
		defer r.Close()
		content := try.To(io.ReadAll(r)).OrFatal(t)
		if string(content) != `{"k": 1}` {
			t.Errorf("content: %s", content)
		}
	})

	t.Run("it reports missing artifacts", func(t *testing.T) {
		uri := try.To(testee.ArtifactURI(ctx, "run-2", "model/model.json")).OrFatal(t)
		_, err := testee.OpenArtifact(ctx, uri)
		if !errors.Is(err, domain.ErrMissing) {
			t.Errorf("error: actual=%v, expect=%v", err, domain.ErrMissing)
		}
	})

	for name, tc := range map[string][2]string{
		"escaping path": {"run-1", "../../etc/passwd"},
		"nested run id": {"a/b", "model"},
		"empty run id":  {"", "model"},
		"dotdot run id": {"..", "model"},
	} {
		t.Run("it rejects "+name, func(t *testing.T) {
			if _, err := testee.ArtifactURI(ctx, tc[0], tc[1]); err == nil {
				t.Error("no error")
			}
		})
	}

	t.Run("it rejects unknown schemes", func(t *testing.T) {
		if _, err := testee.OpenArtifact(ctx, "s3://bucket/model"); err == nil {
			t.Error("no error")
		}
	})
}
