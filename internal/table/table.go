// Package table holds the region feature table shared by every pipeline stage:
// one row per region code, a fixed ordered set of numeric columns.
package table

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/width"
)

var (
	// ErrDuplicateKey is returned when a region code appears twice in one table
	ErrDuplicateKey = eris.New("duplicate region code")
	// ErrMissingColumn is returned when a required column is absent
	ErrMissingColumn = eris.New("missing column")
	// ErrColumnConflict is returned when a column name would appear twice
	ErrColumnConflict = eris.New("column name conflict")
)

// Table maps region codes to rows of named float64 attributes.
// Rows keep insertion order. Tables are never mutated by the pipeline stages;
// every stage builds a new one bound to the same key.
type Table struct {
	key     string
	columns []string
	colIdx  map[string]int
	codes   []string
	rowIdx  map[string]int
	rows    [][]float64
}

// New creates an empty table keyed by the named column
func New(key string, columns []string) (*Table, error) {
	t := &Table{
		key:     key,
		columns: make([]string, 0, len(columns)),
		colIdx:  make(map[string]int, len(columns)),
		rowIdx:  make(map[string]int),
	}
	for _, c := range columns {
		if err := t.addColumnName(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addColumnName(name string) error {
	if name == t.key {
		return eris.Wrapf(ErrColumnConflict, "column %q is the key", name)
	}
	if _, ok := t.colIdx[name]; ok {
		return eris.Wrapf(ErrColumnConflict, "column %q", name)
	}
	t.colIdx[name] = len(t.columns)
	t.columns = append(t.columns, name)
	return nil
}

// Key returns the name of the key column
func (t *Table) Key() string { return t.key }

// Columns returns the attribute column names in order
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Codes returns the region codes in row order
func (t *Table) Codes() []string {
	return append([]string(nil), t.codes...)
}

// Len returns the number of rows
func (t *Table) Len() int { return len(t.codes) }

// HasColumn reports whether the named attribute column exists
func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

// HasCode reports whether the region code has a row
func (t *Table) HasCode(code string) bool {
	_, ok := t.rowIdx[code]
	return ok
}

// Append adds a row. values must follow Columns order.
func (t *Table) Append(code string, values []float64) error {
	if len(values) != len(t.columns) {
		return eris.Errorf("row %s has %d values, table has %d columns", code, len(values), len(t.columns))
	}
	if _, ok := t.rowIdx[code]; ok {
		return eris.Wrapf(ErrDuplicateKey, "%s=%s", t.key, code)
	}
	t.rowIdx[code] = len(t.codes)
	t.codes = append(t.codes, code)
	t.rows = append(t.rows, append([]float64(nil), values...))
	return nil
}

// Row returns a copy of the values for code
func (t *Table) Row(code string) ([]float64, bool) {
	i, ok := t.rowIdx[code]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), t.rows[i]...), true
}

// Value returns a single cell
func (t *Table) Value(code, column string) (float64, bool) {
	i, ok := t.rowIdx[code]
	if !ok {
		return 0, false
	}
	j, ok := t.colIdx[column]
	if !ok {
		return 0, false
	}
	return t.rows[i][j], true
}

// Lookup returns a function reading the named column from a row slice
// obtained through Each. Returns an error wrapping ErrMissingColumn.
func (t *Table) Lookup(column string) (func(row []float64) float64, error) {
	j, ok := t.colIdx[column]
	if !ok {
		return nil, eris.Wrapf(ErrMissingColumn, "%q", column)
	}
	return func(row []float64) float64 { return row[j] }, nil
}

// Each calls fn for every row in order. The row slice must not be retained.
func (t *Table) Each(fn func(code string, row []float64) error) error {
	for i, code := range t.codes {
		if err := fn(code, t.rows[i]); err != nil {
			return err
		}
	}
	return nil
}

// Select returns a new table restricted to the given columns.
// Missing required columns fail with ErrMissingColumn; missing optional columns
// are left out and reported in the second return value.
func (t *Table) Select(required, optional []string) (*Table, []string, error) {
	var keep, missing []string
	for _, c := range required {
		if !t.HasColumn(c) {
			return nil, nil, eris.Wrapf(ErrMissingColumn, "required column %q", c)
		}
		keep = append(keep, c)
	}
	for _, c := range optional {
		if !t.HasColumn(c) {
			missing = append(missing, c)
			continue
		}
		keep = append(keep, c)
	}

	out, err := New(t.key, dedupe(keep))
	if err != nil {
		return nil, nil, err
	}
	idx := make([]int, len(out.columns))
	for i, c := range out.columns {
		idx[i] = t.colIdx[c]
	}
	for r, code := range t.codes {
		vals := make([]float64, len(idx))
		for i, j := range idx {
			vals[i] = t.rows[r][j]
		}
		if err := out.Append(code, vals); err != nil {
			return nil, nil, err
		}
	}
	return out, missing, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// NormalizeKey turns a region code read from any source into its canonical
// string form: surrounding space removed, full-width digits narrowed, and float
// artefacts of numeric coercion ("10205.0", "1.0205e+04") rewritten as the plain
// integer. Leading zeros are kept, so "010205" and "10205" stay distinct.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(width.Narrow.String(s))
	if s == "" {
		return s
	}
	if strings.ContainsAny(s, ".eE") && !strings.HasPrefix(s, "0") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return s
}

// FormatValue renders a cell the way the CSV and report writers expect:
// integers without a decimal point, everything else in shortest form.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
