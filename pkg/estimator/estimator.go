// Package estimator fits classification models and persists them.
package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidInput = errors.New("invalid input for estimator")

// Model predicts labels of feature rows.
type Model interface {
	Kind() string
	Classes() []string
	Predict(x [][]float64) ([]string, error)
}

// Estimator fits a Model.
type Estimator interface {
	Fit(ctx context.Context, x [][]float64, y []string) (Model, error)
}

// Factory builds an Estimator from hyperparameters.
//
// Values of params are float64, int, string or bool. Unknown names are ignored.
type Factory func(params map[string]any) (Estimator, error)

// Accuracy is the fraction of rows m predicts correctly.
func Accuracy(m Model, x [][]float64, y []string) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d rows for %d labels", ErrInvalidInput, len(x), len(y))
	}
	if len(y) == 0 {
		return 0, fmt.Errorf("%w: no rows to score", ErrInvalidInput)
	}
	pred, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	hit := 0
	for i := range y {
		if pred[i] == y[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(y)), nil
}

// snapshot is the persisted form of a Model.
type snapshot struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

// Save writes m as JSON.
func Save(w io.Writer, m Model) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot{Kind: m.Kind(), Model: body})
}

// Load reads a Model written by Save.
func Load(r io.Reader) (Model, error) {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("model is broken: %w", err)
	}
	switch snap.Kind {
	case KindLogisticRegression:
		m := new(LogisticRegressionModel)
		if err := json.Unmarshal(snap.Model, m); err != nil {
			return nil, fmt.Errorf("model is broken: %w", err)
		}
		if err := m.check(); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown model kind: %q", snap.Kind)
}

func checkXY(x [][]float64, y []string) (int, error) {
	if len(x) == 0 {
		return 0, fmt.Errorf("%w: no rows", ErrInvalidInput)
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d rows for %d labels", ErrInvalidInput, len(x), len(y))
	}
	return checkX(x, -1)
}

func checkX(x [][]float64, features int) (int, error) {
	for i, row := range x {
		if features < 0 {
			features = len(row)
		}
		if len(row) != features {
			return 0, fmt.Errorf("%w: row %d has %d features, not %d", ErrInvalidInput, i+1, len(row), features)
		}
	}
	if features == 0 {
		return 0, fmt.Errorf("%w: no features", ErrInvalidInput)
	}
	return features, nil
}
