package errors_test

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

type stageErr struct{}

func (stageErr) Error() string {
	return "stage error for test"
}

func failingStage(message string) error {
	return xe.New(message)
}

func TestNew(t *testing.T) {
	t.Run("it knows where it is created", func(t *testing.T) {
		testee := failingStage("test error")
		message := testee.Error()

		_, thisFile, _, _ := runtime.Caller(0)
		if !strings.Contains(message, "failingStage") {
			t.Errorf("function name is missing: %s", message)
		}
		if !strings.Contains(message, thisFile) {
			t.Errorf("file (%s) is missing: %s", thisFile, message)
		}
	})
}

func TestWrap(t *testing.T) {
	t.Run("it keeps the chain for errors.Is", func(t *testing.T) {
		root := stageErr{}
		err := xe.Wrap(fmt.Errorf("%w", fmt.Errorf("%w", root)))

		if !errors.Is(err, root) {
			t.Error("errors.Is failed through the wrapper")
		}
		target := stageErr{}
		if !errors.As(err, &target) {
			t.Error("errors.As failed through the wrapper")
		}
	})

	t.Run("it returns nil for nil", func(t *testing.T) {
		if err := xe.Wrap(nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if err := xe.WrapWithNote("note", nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it carries the note", func(t *testing.T) {
		err := xe.Notef(stageErr{}, "stage %s", "data_split")

		var located *xe.Located
		if !errors.As(err, &located) {
			t.Fatalf("not a located error: %v", err)
		}
		if located.Note() != "stage data_split" {
			t.Errorf("note: actual=%s, expect=%s", located.Note(), "stage data_split")
		}
		if !strings.Contains(err.Error(), "(stage data_split) <- stage error for test") {
			t.Errorf("unexpected message: %s", err.Error())
		}
	})
}
