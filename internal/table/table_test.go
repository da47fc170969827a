package table

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/storesite/internal/logger"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"10205", "10205"},
		{" 10205 ", "10205"},
		{"10205.0", "10205"},
		{"1.0205e+04", "10205"},
		{"１０２０５", "10205"},
		{"010205", "010205"},
		{"12345678901", "12345678901"},
		{"10205.5", "10205.5"},
		{"SA1-A", "SA1-A"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.input))
		})
	}
}

func TestNormalizeKeyLeadingZerosStayDistinct(t *testing.T) {
	// Padded and unpadded codes never collapse onto each other.
	assert.NotEqual(t, NormalizeKey("010205"), NormalizeKey("10205"))
	assert.Equal(t, NormalizeKey("10205"), NormalizeKey("10205.0"))
}

func TestAppendRejectsDuplicates(t *testing.T) {
	tbl, err := New("code", []string{"a"})
	require.NoError(t, err)

	require.NoError(t, tbl.Append("1", []float64{1}))
	err = tbl.Append("1", []float64{2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	err = tbl.Append("2", []float64{1, 2})
	assert.Error(t, err)
}

func TestNewRejectsConflictingColumns(t *testing.T) {
	_, err := New("code", []string{"a", "a"})
	assert.True(t, errors.Is(err, ErrColumnConflict))

	_, err = New("code", []string{"code"})
	assert.True(t, errors.Is(err, ErrColumnConflict))
}

func TestReadCSV(t *testing.T) {
	input := "\ufeffSA1_CODE_2021,SA1_NAME,Tot_P_P,AREA\n" +
		"10205,Alpha,100,1.5\n" +
		"10206.0,Beta,,2\n"

	tbl, report, err := ReadCSV(strings.NewReader(input), "SA1_CODE_2021")
	require.NoError(t, err)

	assert.Equal(t, "SA1_CODE_2021", tbl.Key())
	assert.Equal(t, []string{"Tot_P_P", "AREA"}, tbl.Columns())
	assert.Equal(t, []string{"10205", "10206"}, tbl.Codes())
	assert.Equal(t, []string{"SA1_NAME"}, report.DroppedColumns)
	assert.Equal(t, 1, report.EmptyCells)

	v, ok := tbl.Value("10206", "Tot_P_P")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = tbl.Value("10205", "AREA")
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestReadCSVMissingKey(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("a,b\n1,2\n"), "SA1_CODE_2021")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
}

func TestReadCSVFileMissing(t *testing.T) {
	_, _, err := ReadCSVFile(filepath.Join(t.TempDir(), "nope.csv"), "code")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInputMissing))
}

func TestReadCSVFileLogsDroppedColumns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	defer logger.Set(zap.New(core))()

	path := filepath.Join(t.TempDir(), "features.csv")
	data := "SA1_CODE_2021,region_name,pop_density\n10205,Alpha,12.5\n10206,Beta,\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	tbl, report, err := ReadCSVFile(path, "SA1_CODE_2021")
	require.NoError(t, err)
	assert.Equal(t, []string{"pop_density"}, tbl.Columns())
	assert.Equal(t, []string{"region_name"}, report.DroppedColumns)

	dropped := logs.FilterMessage("Non-numeric columns dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "features.csv", dropped[0].ContextMap()["table"])
	assert.Equal(t, 1, logs.FilterMessage("Blank cells read as 0").Len())
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tbl, err := New("code", []string{"count", "ratio"})
	require.NoError(t, err)
	require.NoError(t, tbl.Append("010", []float64{3, 0.25}))
	require.NoError(t, tbl.Append("011", []float64{0, 0}))

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	assert.Equal(t, "code,count,ratio\n010,3,0.25\n011,0,0\n", buf.String())

	back, _, err := ReadCSV(&buf, "code")
	require.NoError(t, err)
	assert.Equal(t, tbl.Codes(), back.Codes())
	assert.Equal(t, tbl.Columns(), back.Columns())
}

func TestWriteCSVFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "table.csv")

	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("boom")
	})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSelect(t *testing.T) {
	tbl, err := New("code", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, tbl.Append("1", []float64{1, 2, 3}))

	out, missing, err := tbl.Select([]string{"c"}, []string{"a", "zz"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, out.Columns())
	assert.Equal(t, []string{"zz"}, missing)
	row, ok := out.Row("1")
	require.True(t, ok)
	assert.Equal(t, []float64{3, 1}, row)

	_, _, err = tbl.Select([]string{"zz"}, nil)
	assert.True(t, errors.Is(err, ErrMissingColumn))
}
