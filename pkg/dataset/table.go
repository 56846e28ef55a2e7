// Package dataset reads and writes the CSV files passed between stages.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed table")

// Table is a CSV file in memory: a header and rows of cells.
type Table struct {
	Header []string
	Rows   [][]string
}

func (t Table) Len() int {
	return len(t.Rows)
}

// Column returns the index of the column named name.
func (t Table) Column(name string) (int, bool) {
	for i, h := range t.Header {
		if h == name {
			return i, true
		}
	}
	return -1, false
}

// Select returns a table with the columns at indexes, in that order.
func (t Table) Select(indexes []int) Table {
	ret := Table{Header: make([]string, len(indexes)), Rows: make([][]string, len(t.Rows))}
	for j, i := range indexes {
		ret.Header[j] = t.Header[i]
	}
	for r, row := range t.Rows {
		sel := make([]string, len(indexes))
		for j, i := range indexes {
			sel[j] = row[i]
		}
		ret.Rows[r] = sel
	}
	return ret
}

// Pick returns a table with the rows at indexes, in that order.
func (t Table) Pick(indexes []int) Table {
	ret := Table{Header: append([]string{}, t.Header...), Rows: make([][]string, len(indexes))}
	for j, i := range indexes {
		ret.Rows[j] = t.Rows[i]
	}
	return ret
}

// Validate checks the header is non-empty and unique, and every row has as many cells as the header.
func (t Table) Validate() error {
	if len(t.Header) == 0 {
		return fmt.Errorf("%w: no columns", ErrMalformed)
	}
	seen := map[string]bool{}
	for _, h := range t.Header {
		if seen[h] {
			return fmt.Errorf("%w: duplicated column %q", ErrMalformed, h)
		}
		seen[h] = true
	}
	for n, row := range t.Rows {
		if len(row) != len(t.Header) {
			return fmt.Errorf(
				"%w: row %d has %d cells for %d columns", ErrMalformed, n+1, len(row), len(t.Header),
			)
		}
	}
	return nil
}

// SameHeader reports a and b have the same columns in the same order.
func SameHeader(a, b Table) bool {
	if len(a.Header) != len(b.Header) {
		return false
	}
	for i := range a.Header {
		if a.Header[i] != b.Header[i] {
			return false
		}
	}
	return true
}

// Concat appends rows of tables. All tables should have the same header.
func Concat(tables ...Table) (Table, error) {
	if len(tables) == 0 {
		return Table{}, fmt.Errorf("%w: nothing to concatenate", ErrMalformed)
	}
	ret := Table{Header: append([]string{}, tables[0].Header...)}
	for n, t := range tables {
		if !SameHeader(tables[0], t) {
			return Table{}, fmt.Errorf(
				"%w: header of table #%d %v differs from %v", ErrMalformed, n, t.Header, tables[0].Header,
			)
		}
		ret.Rows = append(ret.Rows, t.Rows...)
	}
	return ret, nil
}

// Floats parses every cell as a float64.
func (t Table) Floats() ([][]float64, error) {
	ret := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		vals := make([]float64, len(row))
		for c, cell := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf(
					"%w: row %d, column %q is not a number: %q", ErrMalformed, r+1, t.Header[c], cell,
				)
			}
			vals[c] = v
		}
		ret[r] = vals
	}
	return ret, nil
}

// Labels returns cells of the only column.
func (t Table) Labels() ([]string, error) {
	if len(t.Header) != 1 {
		return nil, fmt.Errorf("%w: labels should be a single column, but %d", ErrMalformed, len(t.Header))
	}
	ret := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		ret[i] = row[0]
	}
	return ret, nil
}

// Decode reads a CSV with a header line.
func Decode(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("%w: no header", ErrMalformed)
	}
	t := Table{Header: records[0], Rows: records[1:]}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Encode writes t as a CSV with a header line.
func Encode(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func Read(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	t, err := Decode(f)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Write replaces the file at path with t.
//
// It writes a temporary file next to path and renames it, so readers never see a partial table.
func Write(path string, t Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FromFloats builds a table of numbers.
func FromFloats(header []string, rows [][]float64) Table {
	t := Table{Header: append([]string{}, header...), Rows: make([][]string, len(rows))}
	for r, row := range rows {
		cells := make([]string, len(row))
		for c, v := range row {
			cells[c] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		t.Rows[r] = cells
	}
	return t
}
