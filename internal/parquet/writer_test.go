package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/table"
)

func readTable(t *testing.T, path string) arrow.Table {
	t.Helper()
	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { rdr.Close() })

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	tbl, err := fr.ReadTable(context.Background())
	require.NoError(t, err)
	t.Cleanup(tbl.Release)
	return tbl
}

func TestWritePointsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feature_points.parquet")
	points := []extract.Point{
		{Category: "school_count", Type: osm.TypeNode, ID: 1, Lon: 138.60, Lat: -34.92},
		{Category: "cafe_count", Type: osm.TypeWay, ID: 100, Lon: 138.61, Lat: -34.93},
		{Category: "school_count", Type: osm.TypeRelation, ID: 300, Lon: 138.62, Lat: -34.94},
	}

	// batch size 2 forces a mid-file flush
	require.NoError(t, WritePointsFile(path, points, 2))

	tbl := readTable(t, path)
	assert.Equal(t, int64(3), tbl.NumRows())
	require.Equal(t, 6, int(tbl.NumCols()))
	assert.Equal(t, "category", tbl.Schema().Field(0).Name)
	assert.Equal(t, "geom_wkb", tbl.Schema().Field(5).Name)
}

func TestWriteTableFile(t *testing.T) {
	tb, err := table.New("SA1_CODE_2021", []string{"school_count", "Tot_P_P"})
	require.NoError(t, err)
	require.NoError(t, tb.Append("40101100101", []float64{2, 310}))
	require.NoError(t, tb.Append("40101100102", []float64{0, 275}))

	path := filepath.Join(t.TempDir(), "out", "MASTER_dataset.parquet")
	require.NoError(t, WriteTableFile(path, tb, 0))

	out := readTable(t, path)
	assert.Equal(t, int64(2), out.NumRows())
	assert.Equal(t, []string{"SA1_CODE_2021", "school_count", "Tot_P_P"}, fieldNames(out.Schema()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	pw, err := NewPointWriter(filepath.Join(dir, "points.parquet"), 10)
	require.NoError(t, err)
	require.NoError(t, pw.Write(extract.Point{Category: "store", Type: osm.TypeNode, ID: 7}))
	pw.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func fieldNames(s *arrow.Schema) []string {
	out := make([]string, 0, s.NumFields())
	for _, f := range s.Fields() {
		out = append(out, f.Name)
	}
	return out
}
