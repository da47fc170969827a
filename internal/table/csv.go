package table

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/wegman-software/storesite/internal/logger"
)

// ErrInputMissing is returned when an input file does not exist
var ErrInputMissing = eris.New("input file not found")

// ReadReport describes the schema decisions taken while reading a table
type ReadReport struct {
	DroppedColumns []string // columns holding non-numeric values
	EmptyCells     int      // blank numeric cells read as 0
}

// NewBOMReader strips a leading UTF-8 byte order mark, common in spreadsheet exports
func NewBOMReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// ReadCSV reads a delimited table whose key column is named key.
// Key values are normalised with NormalizeKey. Every other column must be numeric;
// columns holding any non-numeric value are dropped and listed in the report.
func ReadCSV(r io.Reader, key string) (*Table, *ReadReport, error) {
	cr := csv.NewReader(NewBOMReader(r))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, eris.New("table: empty input")
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "table: read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	keyIdx := -1
	for i, h := range header {
		if h == key {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, nil, eris.Wrapf(ErrMissingColumn, "key column %q", key)
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "table: read row")
		}
		records = append(records, rec)
	}

	report := &ReadReport{}
	var keepIdx []int
	var keepNames []string
	for i, h := range header {
		if i == keyIdx {
			continue
		}
		if numericColumn(records, i) {
			keepIdx = append(keepIdx, i)
			keepNames = append(keepNames, h)
		} else {
			report.DroppedColumns = append(report.DroppedColumns, h)
		}
	}

	t, err := New(key, keepNames)
	if err != nil {
		return nil, nil, err
	}

	for line, rec := range records {
		if keyIdx >= len(rec) {
			return nil, nil, eris.Errorf("table: row %d has no key", line+2)
		}
		code := NormalizeKey(rec[keyIdx])
		if code == "" {
			return nil, nil, eris.Errorf("table: row %d has an empty key", line+2)
		}
		vals := make([]float64, len(keepIdx))
		for j, i := range keepIdx {
			cell := ""
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			if cell == "" {
				report.EmptyCells++
				continue
			}
			vals[j], _ = strconv.ParseFloat(cell, 64)
		}
		if err := t.Append(code, vals); err != nil {
			return nil, nil, err
		}
	}

	return t, report, nil
}

func numericColumn(records [][]string, i int) bool {
	for _, rec := range records {
		if i >= len(rec) {
			continue
		}
		cell := strings.TrimSpace(rec[i])
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false
		}
	}
	return true
}

// ReadCSVFile opens path and reads it with ReadCSV. Dropped columns and
// blank cells are logged as warnings.
func ReadCSVFile(path, key string) (*Table, *ReadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, eris.Wrapf(ErrInputMissing, "%s", path)
		}
		return nil, nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close()

	t, report, err := ReadCSV(f, key)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "table: %s", path)
	}

	log := logger.Get()
	if len(report.DroppedColumns) > 0 {
		log.Warn("Non-numeric columns dropped",
			zap.String("table", filepath.Base(path)),
			zap.Strings("columns", report.DroppedColumns))
	}
	if report.EmptyCells > 0 {
		log.Warn("Blank cells read as 0",
			zap.String("table", filepath.Base(path)),
			zap.Int("cells", report.EmptyCells))
	}
	return t, report, nil
}

// WriteCSV writes the key column followed by every attribute column
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{t.key}, t.columns...)); err != nil {
		return eris.Wrap(err, "table: write header")
	}
	rec := make([]string, len(t.columns)+1)
	for i, code := range t.codes {
		rec[0] = code
		for j, v := range t.rows[i] {
			rec[j+1] = FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "table: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "table: flush")
}

// WriteCSVFile writes the table to path. The file only appears once complete.
func (t *Table) WriteCSVFile(path string) error {
	return WriteFileAtomic(path, t.WriteCSV)
}

// WriteFileAtomic writes through a temporary file in the same directory and renames
// it into place, so an aborted run never leaves a partial output behind.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return eris.Wrapf(err, "create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "create temp file for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "rename to %s", path)
	}
	return nil
}
