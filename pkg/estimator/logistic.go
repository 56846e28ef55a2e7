package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/AlexandreManai/ML-pipeline/pkg/configs/pipeline"
)

const KindLogisticRegression = "logistic_regression"

const (
	DefaultC          = 1.0
	DefaultIterations = 1000
)

var ErrDiverged = errors.New("fitting diverged")

// LogisticRegression is a multinomial logistic regression with L2 penalty,
// fitted by L-BFGS on standardized features.
//
// C is the inverse of the regularization strength. Iterations bounds the major iterations of L-BFGS.
type LogisticRegression struct {
	C          float64
	Iterations int
}

// NewLogisticRegression is a Factory reading "C" and "iterations".
func NewLogisticRegression(params map[string]any) (Estimator, error) {
	lr := &LogisticRegression{C: DefaultC, Iterations: DefaultIterations}
	if v, ok := params["C"]; ok {
		c, isNum := pipeline.AsFloat(v)
		if !isNum || !(0 < c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: C should be a positive number, but %v", ErrInvalidInput, v)
		}
		lr.C = c
	}
	if v, ok := params["iterations"]; ok {
		n, isInt := pipeline.AsInt(v)
		if !isInt || n <= 0 {
			return nil, fmt.Errorf("%w: iterations should be a positive integer, but %v", ErrInvalidInput, v)
		}
		lr.Iterations = n
	}
	return lr, nil
}

var _ Factory = NewLogisticRegression

func (lr *LogisticRegression) Fit(ctx context.Context, x [][]float64, y []string) (Model, error) {
	nfeat, err := checkXY(x, y)
	if err != nil {
		return nil, err
	}
	for i, row := range x {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d, feature %d is not finite", ErrInvalidInput, i+1, j+1)
			}
		}
	}

	classes := uniq(y)
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: needs samples of at least 2 classes, but only %v", ErrInvalidInput, classes)
	}
	classIndex := map[string]int{}
	for k, c := range classes {
		classIndex[c] = k
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	xs := mat.NewDense(len(x), nfeat, nil)
	for i, row := range x {
		xs.SetRow(i, row)
	}
	mean, scale := standardize(xs)
	xs.Apply(func(_, j int, v float64) float64 { return (v - mean[j]) / scale[j] }, xs)

	target := make([]int, len(y))
	for i, l := range y {
		target[i] = classIndex[l]
	}

	k := len(classes)
	loss := &softmaxLoss{
		x:       xs,
		target:  target,
		classes: k,
		penalty: 1 / (lr.C * float64(len(x))),
	}
	problem := optimize.Problem{
		Func: loss.Func,
		Grad: loss.Grad,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   lr.Iterations,
		GradientThreshold: 1e-8,
	}

	result, err := optimize.Minimize(problem, make([]float64, k*(nfeat+1)), settings, &optimize.LBFGS{})
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if result == nil {
		return nil, fmt.Errorf("fitting failed: %w", err)
	}
	// a line search may give up near the optimum. The best location so far is kept.
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) || floats.HasNaN(result.X) {
		return nil, fmt.Errorf("%w (%s)", ErrDiverged, result.Status)
	}

	w := make([][]float64, k)
	for c := range w {
		w[c] = append([]float64{}, result.X[c*nfeat:(c+1)*nfeat]...)
	}
	return &LogisticRegressionModel{
		ClassLabels: classes,
		Mean:        mean,
		Scale:       scale,
		Weights:     w,
		Intercepts:  append([]float64{}, result.X[k*nfeat:]...),
		C:           lr.C,
		Iterations:  lr.Iterations,
		Status:      result.Status.String(),
	}, nil
}

// softmaxLoss is the mean cross entropy of a linear softmax classifier with L2 penalty on weights.
//
// Parameters are weights (classes x features, row major) followed by intercepts.
type softmaxLoss struct {
	x       *mat.Dense
	target  []int
	classes int
	penalty float64
}

func (l *softmaxLoss) weights(theta []float64) []float64 {
	_, d := l.x.Dims()
	return theta[:l.classes*d]
}

// scores returns linear scores of rows (rows x classes).
func (l *softmaxLoss) scores(theta []float64) *mat.Dense {
	n, d := l.x.Dims()
	w := mat.NewDense(l.classes, d, l.weights(theta))
	b := theta[l.classes*d:]

	z := mat.NewDense(n, l.classes, nil)
	z.Mul(l.x, w.T())
	for i := 0; i < n; i++ {
		floats.Add(z.RawRowView(i), b)
	}
	return z
}

func (l *softmaxLoss) Func(theta []float64) float64 {
	z := l.scores(theta)
	n, _ := z.Dims()
	f := 0.0
	for i := 0; i < n; i++ {
		row := z.RawRowView(i)
		f += floats.LogSumExp(row) - row[l.target[i]]
	}
	w := l.weights(theta)
	return f/float64(n) + l.penalty*floats.Dot(w, w)/2
}

func (l *softmaxLoss) Grad(grad, theta []float64) {
	z := l.scores(theta)
	n, d := l.x.Dims()

	// z becomes (probability - onehot) / n.
	for i := 0; i < n; i++ {
		row := z.RawRowView(i)
		lse := floats.LogSumExp(row)
		for c := range row {
			row[c] = math.Exp(row[c] - lse)
		}
		row[l.target[i]] -= 1
		floats.Scale(1/float64(n), row)
	}

	kd := l.classes * d
	gw := mat.NewDense(l.classes, d, grad[:kd])
	gw.Mul(z.T(), l.x)
	floats.AddScaled(grad[:kd], l.penalty, l.weights(theta))

	gb := grad[kd:]
	for c := range gb {
		gb[c] = 0
	}
	for i := 0; i < n; i++ {
		floats.Add(gb, z.RawRowView(i))
	}
}

// LogisticRegressionModel is a fitted LogisticRegression.
type LogisticRegressionModel struct {
	ClassLabels []string    `json:"classes"`
	Mean        []float64   `json:"mean"`
	Scale       []float64   `json:"scale"`
	Weights     [][]float64 `json:"weights"`
	Intercepts  []float64   `json:"intercepts"`
	C           float64     `json:"C"`
	Iterations  int         `json:"iterations"`

	// Status is how the optimizer terminated.
	Status string `json:"status,omitempty"`
}

var _ Model = &LogisticRegressionModel{}

func (m *LogisticRegressionModel) Kind() string {
	return KindLogisticRegression
}

func (m *LogisticRegressionModel) Classes() []string {
	return append([]string{}, m.ClassLabels...)
}

func (m *LogisticRegressionModel) check() error {
	k := len(m.ClassLabels)
	if k < 2 || len(m.Weights) != k || len(m.Intercepts) != k {
		return fmt.Errorf("model is broken: %d classes, %d weight rows, %d intercepts", k, len(m.Weights), len(m.Intercepts))
	}
	nfeat := len(m.Mean)
	if nfeat == 0 || len(m.Scale) != nfeat {
		return fmt.Errorf("model is broken: %d means for %d scales", nfeat, len(m.Scale))
	}
	for _, row := range m.Weights {
		if len(row) != nfeat {
			return fmt.Errorf("model is broken: %d weights for %d features", len(row), nfeat)
		}
	}
	return nil
}

func (m *LogisticRegressionModel) Predict(x [][]float64) ([]string, error) {
	if _, err := checkX(x, len(m.Mean)); err != nil {
		return nil, err
	}
	z := make([]float64, len(m.ClassLabels))
	ret := make([]string, len(x))
	for i, row := range x {
		xs := applyScale(row, m.Mean, m.Scale)
		for c := range z {
			z[c] = m.Intercepts[c] + floats.Dot(m.Weights[c], xs)
		}
		ret[i] = m.ClassLabels[floats.MaxIdx(z)]
	}
	return ret, nil
}

func uniq(y []string) []string {
	seen := map[string]bool{}
	ret := []string{}
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			ret = append(ret, v)
		}
	}
	sort.Strings(ret)
	return ret
}

// standardize returns means and population standard deviations of columns.
// Constant columns get scale 1.
func standardize(x *mat.Dense) ([]float64, []float64) {
	_, nfeat := x.Dims()
	mean := make([]float64, nfeat)
	scale := make([]float64, nfeat)
	for j := range nfeat {
		col := mat.Col(nil, j, x)
		mean[j], scale[j] = stat.PopMeanStdDev(col, nil)
		if scale[j] == 0 || math.IsNaN(scale[j]) {
			scale[j] = 1
		}
	}
	return mean, scale
}

func applyScale(row, mean, scale []float64) []float64 {
	ret := make([]float64, len(row))
	for j, v := range row {
		ret[j] = (v - mean[j]) / scale[j]
	}
	return ret
}
