package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AlexandreManai/ML-pipeline/pkg/dataset"
	"github.com/AlexandreManai/ML-pipeline/pkg/domain"
	xe "github.com/AlexandreManai/ML-pipeline/pkg/errors"
)

// ErrInvalidData means data files are not usable for training.
var ErrInvalidData = errors.New("invalid data")

func invalidData(stage string, format string, args ...any) error {
	return fmt.Errorf("%w (%s): %s", ErrInvalidData, stage, fmt.Sprintf(format, args...))
}

type IngestResult struct {
	// Sources are files concatenated into raw_data_file.
	Sources []string
	Rows    int

	// Reused is true when no new file has arrived and raw_data_file is kept.
	Reused bool
}

// Ingest concatenates CSV files in the incoming directory, sorted by name, into raw_data_file.
//
// When there are none, an existing raw_data_file is used as is.
func (e *Env) Ingest(ctx context.Context) (IngestResult, error) {
	logger := e.logger(StageIngest)
	raw := e.Files.Path(domain.RawDataFile)

	var sources []string
	if e.IncomingDir != "" {
		found, err := filepath.Glob(filepath.Join(e.IncomingDir, "*.csv"))
		if err != nil {
			return IngestResult{}, xe.Wrap(err)
		}
		sort.Strings(found)
		sources = found
	}

	if len(sources) == 0 {
		if err := e.Files.Require(StageIngest, domain.RawDataFile); err != nil {
			return IngestResult{}, err
		}
		t, err := dataset.Read(raw)
		if err != nil {
			return IngestResult{}, invalidData(StageIngest, "%s", err)
		}
		logger.Printf("no new data in %q. use %s (%d rows)", e.IncomingDir, raw, t.Len())
		return IngestResult{Rows: t.Len(), Reused: true}, nil
	}

	tables := make([]dataset.Table, 0, len(sources))
	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			return IngestResult{}, err
		}
		t, err := dataset.Read(s)
		if err != nil {
			return IngestResult{}, invalidData(StageIngest, "%s", err)
		}
		tables = append(tables, t)
	}
	all, err := dataset.Concat(tables...)
	if err != nil {
		return IngestResult{}, invalidData(StageIngest, "%s", err)
	}
	if err := dataset.Write(raw, all); err != nil {
		return IngestResult{}, xe.Wrap(err)
	}
	logger.Printf("ingested %d files (%d rows) into %s", len(sources), all.Len(), raw)
	return IngestResult{Sources: sources, Rows: all.Len()}, nil
}

type SplitResult struct {
	Train int
	Test  int

	// Cutoff is the earliest date in the test split. It is zero without a date column.
	Cutoff time.Time
}

// Split divides raw_data_file into raw_train_file and raw_test_file, keeping row order.
//
// With a date column, rows in the last NDaysTest days up to the newest date are the test split.
// Without, the last NDaysTest rows are.
func (e *Env) Split(ctx context.Context) (SplitResult, error) {
	logger := e.logger(StageSplit)
	if err := e.Files.Require(StageSplit, domain.RawDataFile); err != nil {
		return SplitResult{}, err
	}
	t, err := dataset.Read(e.Files.Path(domain.RawDataFile))
	if err != nil {
		return SplitResult{}, invalidData(StageSplit, "%s", err)
	}

	n := e.nDaysTest()
	result := SplitResult{}
	var train, test []int

	if col := e.SplitOptions.DateColumn; col != "" {
		c, ok := t.Column(col)
		if !ok {
			return SplitResult{}, invalidData(StageSplit, "no date column %q", col)
		}
		dates := make([]time.Time, t.Len())
		var newest time.Time
		for i, row := range t.Rows {
			d, err := parseDate(row[c])
			if err != nil {
				return SplitResult{}, invalidData(StageSplit, "row %d: %s", i+1, err)
			}
			dates[i] = d
			if newest.Before(d) {
				newest = d
			}
		}
		result.Cutoff = newest.AddDate(0, 0, 1-n)
		for i, d := range dates {
			if d.Before(result.Cutoff) {
				train = append(train, i)
			} else {
				test = append(test, i)
			}
		}
	} else {
		boundary := t.Len() - n
		if boundary < 0 {
			boundary = 0
		}
		for i := range t.Rows {
			if i < boundary {
				train = append(train, i)
			} else {
				test = append(test, i)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return SplitResult{}, err
	}
	if err := dataset.Write(e.Files.Path(domain.RawTrainFile), t.Pick(train)); err != nil {
		return SplitResult{}, xe.Wrap(err)
	}
	if err := dataset.Write(e.Files.Path(domain.RawTestFile), t.Pick(test)); err != nil {
		return SplitResult{}, xe.Wrap(err)
	}

	result.Train, result.Test = len(train), len(test)
	logger.Printf("split into %d train rows and %d test rows", result.Train, result.Test)
	return result, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(DateLayout) < len(s) {
		// accept timestamps, by their date part.
		s = s[:len(DateLayout)]
	}
	return time.Parse(DateLayout, s)
}

// features returns indexes of feature columns: all but the label, the date and dropped ones.
func (e *Env) features(t dataset.Table) []int {
	excluded := map[string]bool{e.labelColumn(): true}
	if e.SplitOptions.DateColumn != "" {
		excluded[e.SplitOptions.DateColumn] = true
	}
	for _, d := range e.TransformOptions.DropColumns {
		excluded[d] = true
	}
	ret := []int{}
	for i, h := range t.Header {
		if !excluded[h] {
			ret = append(ret, i)
		}
	}
	return ret
}

type ValidationReport struct {
	TrainRows int
	TestRows  int
	Features  []string
	Classes   []string
}

// Validate checks the train and test splits are usable for training.
//
// Both should be non-empty with the same header, have the label column and numeric features.
func (e *Env) Validate(ctx context.Context) (ValidationReport, error) {
	logger := e.logger(StageValidate)
	if err := e.Files.Require(StageValidate, domain.RawTrainFile, domain.RawTestFile); err != nil {
		return ValidationReport{}, err
	}

	train, err := dataset.Read(e.Files.Path(domain.RawTrainFile))
	if err != nil {
		return ValidationReport{}, invalidData(StageValidate, "%s", err)
	}
	test, err := dataset.Read(e.Files.Path(domain.RawTestFile))
	if err != nil {
		return ValidationReport{}, invalidData(StageValidate, "%s", err)
	}

	if !dataset.SameHeader(train, test) {
		return ValidationReport{}, invalidData(StageValidate, "train columns %v differ from test columns %v", train.Header, test.Header)
	}
	if train.Len() == 0 {
		return ValidationReport{}, invalidData(StageValidate, "train split is empty")
	}
	if test.Len() == 0 {
		return ValidationReport{}, invalidData(StageValidate, "test split is empty")
	}
	label, ok := train.Column(e.labelColumn())
	if !ok {
		return ValidationReport{}, invalidData(StageValidate, "no label column %q in %v", e.labelColumn(), train.Header)
	}
	features := e.features(train)
	if len(features) == 0 {
		return ValidationReport{}, invalidData(StageValidate, "no feature columns in %v", train.Header)
	}

	for name, t := range map[string]dataset.Table{"train": train, "test": test} {
		if err := ctx.Err(); err != nil {
			return ValidationReport{}, err
		}
		if _, err := t.Select(features).Floats(); err != nil {
			return ValidationReport{}, invalidData(StageValidate, "%s split: %s", name, err)
		}
		for i, row := range t.Rows {
			if strings.TrimSpace(row[label]) == "" {
				return ValidationReport{}, invalidData(StageValidate, "%s split: row %d has no label", name, i+1)
			}
		}
	}

	report := ValidationReport{TrainRows: train.Len(), TestRows: test.Len()}
	for _, i := range features {
		report.Features = append(report.Features, train.Header[i])
	}
	classes := map[string]bool{}
	for _, row := range train.Rows {
		classes[row[label]] = true
	}
	for c := range classes {
		report.Classes = append(report.Classes, c)
	}
	sort.Strings(report.Classes)
	if len(report.Classes) < 2 {
		return ValidationReport{}, invalidData(StageValidate, "train split has only classes %v", report.Classes)
	}

	logger.Printf(
		"valid: %d train rows, %d test rows, features %v, classes %v",
		report.TrainRows, report.TestRows, report.Features, report.Classes,
	)
	return report, nil
}

type TransformResult struct {
	Features []string
	Label    string
}

// Transform writes features and labels of the splits into x_* and y_* files, keeping row order.
func (e *Env) Transform(ctx context.Context) (TransformResult, error) {
	logger := e.logger(StageTransform)
	if err := e.Files.Require(StageTransform, domain.RawTrainFile, domain.RawTestFile); err != nil {
		return TransformResult{}, err
	}

	result := TransformResult{Label: e.labelColumn()}
	for _, split := range []struct {
		raw, x, y domain.DataFileKey
	}{
		{raw: domain.RawTrainFile, x: domain.TransformedXTrainFile, y: domain.TransformedYTrainFile},
		{raw: domain.RawTestFile, x: domain.TransformedXTestFile, y: domain.TransformedYTestFile},
	} {
		if err := ctx.Err(); err != nil {
			return TransformResult{}, err
		}
		t, err := dataset.Read(e.Files.Path(split.raw))
		if err != nil {
			return TransformResult{}, invalidData(StageTransform, "%s", err)
		}
		label, ok := t.Column(result.Label)
		if !ok {
			return TransformResult{}, invalidData(StageTransform, "no label column %q in %s", result.Label, split.raw)
		}
		x := t.Select(e.features(t))
		if err := dataset.Write(e.Files.Path(split.x), x); err != nil {
			return TransformResult{}, xe.Wrap(err)
		}
		if err := dataset.Write(e.Files.Path(split.y), t.Select([]int{label})); err != nil {
			return TransformResult{}, xe.Wrap(err)
		}
		result.Features = x.Header
	}

	logger.Printf("features: %v, label: %s", result.Features, result.Label)
	return result, nil
}

// Matrices are the transformed splits.
type Matrices struct {
	XTrain [][]float64
	YTrain []string
	XTest  [][]float64
	YTest  []string
}

// ReadMatrices reads the transformed files.
func (e *Env) ReadMatrices(stage string, keys ...domain.DataFileKey) (Matrices, error) {
	if len(keys) == 0 {
		keys = []domain.DataFileKey{
			domain.TransformedXTrainFile, domain.TransformedYTrainFile,
			domain.TransformedXTestFile, domain.TransformedYTestFile,
		}
	}
	if err := e.Files.Require(stage, keys...); err != nil {
		return Matrices{}, err
	}

	m := Matrices{}
	for _, k := range keys {
		t, err := dataset.Read(e.Files.Path(k))
		if errors.Is(err, fs.ErrNotExist) {
			return Matrices{}, domain.RequiredArtifactMissing{Stage: stage, Key: k, Path: e.Files.Path(k)}
		} else if err != nil {
			return Matrices{}, invalidData(stage, "%s", err)
		}
		switch k {
		case domain.TransformedXTrainFile:
			m.XTrain, err = t.Floats()
		case domain.TransformedXTestFile:
			m.XTest, err = t.Floats()
		case domain.TransformedYTrainFile:
			m.YTrain, err = t.Labels()
		case domain.TransformedYTestFile:
			m.YTest, err = t.Labels()
		}
		if err != nil {
			return Matrices{}, invalidData(stage, "%s: %s", k, err)
		}
	}
	return m, nil
}
