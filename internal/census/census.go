// Package census selects attribute columns from census packs (GeoPackage
// layers or CSV tables) into keyed region tables.
package census

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/gpkg"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/table"
)

// Source describes one census extraction
type Source struct {
	Name     string   `mapstructure:"name" yaml:"name"`
	Input    string   `mapstructure:"input" yaml:"input"`
	Layer    string   `mapstructure:"layer" yaml:"layer"`
	Key      string   `mapstructure:"key" yaml:"key"`
	Columns  []string `mapstructure:"columns" yaml:"columns"`
	Required []string `mapstructure:"required" yaml:"required"`
	Output   string   `mapstructure:"output" yaml:"output"`
}

// Result is the selected table and what could not be selected
type Result struct {
	Table *table.Table
	// Missing lists requested columns absent from the source
	Missing []string
	// NonNumeric lists requested columns dropped for holding text
	NonNumeric []string
}

// wanted returns Columns followed by any Required column not already listed,
// without the key
func (s Source) wanted() []string {
	seen := map[string]bool{s.Key: true}
	var out []string
	for _, c := range append(append([]string(nil), s.Columns...), s.Required...) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func (s Source) isRequired(c string) bool {
	for _, r := range s.Required {
		if r == c {
			return true
		}
	}
	return false
}

// Extract reads the source and keeps the requested columns. A missing
// required column aborts; other missing columns are dropped with a warning.
// A selection with no columns left aborts. With no columns requested every
// numeric column is kept.
func Extract(ctx context.Context, src Source) (*Result, error) {
	if src.Key == "" {
		return nil, eris.Errorf("census %s: no key column", src.Name)
	}

	var res *Result
	var err error
	switch strings.ToLower(filepath.Ext(src.Input)) {
	case ".gpkg":
		res, err = fromGeoPackage(ctx, src)
	case ".csv", ".txt":
		res, err = fromCSV(src)
	default:
		return nil, eris.Errorf("census %s: unsupported input %s (want .gpkg or .csv)", src.Name, src.Input)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "census %s", src.Name)
	}

	log := logger.Stage("census")
	if len(res.Missing) > 0 {
		log.Warn("Requested columns not found", zap.String("source", src.Name), zap.Strings("columns", res.Missing))
	}
	if len(res.NonNumeric) > 0 {
		log.Warn("Non-numeric columns dropped", zap.String("source", src.Name), zap.Strings("columns", res.NonNumeric))
	}
	log.Info("Census table extracted",
		zap.String("source", src.Name),
		zap.String("input", src.Input),
		zap.Int("rows", res.Table.Len()),
		zap.Int("columns", len(res.Table.Columns())))
	return res, nil
}

// checkSelection applies the missing-column policy
func checkSelection(src Source, found, missing []string) error {
	for _, c := range missing {
		if src.isRequired(c) {
			return eris.Wrapf(table.ErrMissingColumn, "required column %q", c)
		}
	}
	if len(found) == 0 {
		return eris.Wrap(table.ErrMissingColumn, "none of the requested columns exist")
	}
	return nil
}

func fromCSV(src Source) (*Result, error) {
	t, report, err := table.ReadCSVFile(src.Input, src.Key)
	if err != nil {
		return nil, err
	}
	want := src.wanted()
	if len(want) == 0 {
		return &Result{Table: t, NonNumeric: report.DroppedColumns}, nil
	}

	res := &Result{}
	var found []string
	for _, c := range want {
		switch {
		case t.HasColumn(c):
			found = append(found, c)
		case contains(report.DroppedColumns, c):
			res.NonNumeric = append(res.NonNumeric, c)
		default:
			res.Missing = append(res.Missing, c)
		}
	}
	if err := checkSelection(src, found, append(res.Missing, res.NonNumeric...)); err != nil {
		return nil, err
	}
	if res.Table, _, err = t.Select(found, nil); err != nil {
		return nil, err
	}
	return res, nil
}

func fromGeoPackage(ctx context.Context, src Source) (*Result, error) {
	db, err := gpkg.Open(src.Input)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	layer := src.Layer
	if layer == "" {
		tables, err := db.Tables(ctx)
		if err != nil {
			return nil, err
		}
		if len(tables) != 1 {
			return nil, eris.Errorf("%s has %d tables, choose one of [%s]", src.Input, len(tables), strings.Join(tables, ", "))
		}
		layer = tables[0]
	}

	cols, err := db.Columns(ctx, layer)
	if err != nil {
		return nil, err
	}
	if !contains(cols, src.Key) {
		return nil, eris.Wrapf(table.ErrMissingColumn, "key %q in layer %s", src.Key, layer)
	}

	want := src.wanted()
	if len(want) == 0 {
		for _, c := range cols {
			if c != src.Key && c != "fid" && c != "geom" && c != "geometry" {
				want = append(want, c)
			}
		}
	}

	res := &Result{}
	var found []string
	for _, c := range want {
		if contains(cols, c) {
			found = append(found, c)
		} else {
			res.Missing = append(res.Missing, c)
		}
	}
	if err := checkSelection(src, found, res.Missing); err != nil {
		return nil, err
	}

	type record struct {
		code string
		vals []any
	}
	var records []record
	err = db.Rows(ctx, layer, append([]string{src.Key}, found...), func(v []any) error {
		records = append(records, record{code: keyString(v[0]), vals: v[1:]})
		return nil
	})
	if err != nil {
		return nil, err
	}

	numeric := make([]bool, len(found))
	var keep []string
	for j, c := range found {
		numeric[j] = true
		for _, r := range records {
			if _, ok := toFloat(r.vals[j]); !ok {
				numeric[j] = false
				break
			}
		}
		if numeric[j] {
			keep = append(keep, c)
		} else {
			res.NonNumeric = append(res.NonNumeric, c)
		}
	}
	if err := checkSelection(src, keep, res.NonNumeric); err != nil {
		return nil, err
	}

	t, err := table.New(src.Key, keep)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.code == "" {
			return nil, eris.Errorf("layer %s has a row with an empty %s", layer, src.Key)
		}
		row := make([]float64, 0, len(keep))
		for j, v := range r.vals {
			if numeric[j] {
				f, _ := toFloat(v)
				row = append(row, f)
			}
		}
		if err := t.Append(r.code, row); err != nil {
			return nil, err
		}
	}
	res.Table = t
	return res, nil
}

// toFloat converts a SQLite cell; NULL and blank read as 0
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case []byte:
		return toFloat(string(t))
	}
	return 0, false
}

func keyString(v any) string {
	switch t := v.(type) {
	case string:
		return table.NormalizeKey(t)
	case []byte:
		return table.NormalizeKey(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return table.NormalizeKey(strconv.FormatFloat(t, 'f', -1, 64))
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
