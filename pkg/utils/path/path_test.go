package path_test

import (
	"os"
	"path/filepath"
	"testing"

	kpath "github.com/AlexandreManai/ML-pipeline/pkg/utils/path"
)

func TestResolve(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	pwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("can not get workdir: %s (%+v)", err.Error(), err)
	}
	parent, _ := filepath.Split(pwd)

	for name, testcase := range map[string]struct {
		input    string
		expected string
	}{
		"absolute path is left as is": {
			input: "/etc/cd4ml/orchestrator.yaml", expected: "/etc/cd4ml/orchestrator.yaml",
		},
		"tilde is the user home": {
			input: "~/cd4ml/hooks.yaml", expected: filepath.Join(home, "cd4ml/hooks.yaml"),
		},
		"tilde not followed by separator is a name": {
			input: "~cd4ml", expected: filepath.Join(pwd, "~cd4ml"),
		},
		"relative path is joined to workdir": {
			input: "./conf/orchestrator.yaml", expected: filepath.Join(pwd, "conf/orchestrator.yaml"),
		},
		"path is cleaned": {
			input: "/a/x/../y/z/../../b/c/d/..", expected: "/a/b/c",
		},
		"relative path is cleaned": {
			input: "../a/x/../y/z/../../b/c/d/..", expected: filepath.Join(parent, "a/b/c"),
		},
		"too many parents are root": {
			input: "/a/b/c/../../../../", expected: "/",
		},
	} {
		t.Run(name, func(t *testing.T) {
			actual, err := kpath.Resolve(testcase.input)
			if err != nil {
				t.Fatalf("unexpected error: %s (%+v)", err.Error(), err)
			}
			if actual != testcase.expected {
				t.Errorf("%s: (actual, expected) = (%s, %s)", testcase.input, actual, testcase.expected)
			}
		})
	}
}
