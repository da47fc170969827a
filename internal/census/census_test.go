package census

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/storesite/internal/gpkg"
	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/table"
)

const key = "SA1_CODE_2021"

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "G33.csv")
	data := "SA1_CODE_2021,SA1_NAME,Tot_Tot,HI_2000_2499_Tot\n" +
		"10205,Alpha,40,3\n" +
		"10206,Beta,30,\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestExtractCSV(t *testing.T) {
	res, err := Extract(context.Background(), Source{
		Name:     "G33",
		Input:    writeCSV(t),
		Key:      key,
		Columns:  []string{key, "Tot_Tot", "HI_2000_2499_Tot", "HI_1500_1749_Tot"},
		Required: []string{"Tot_Tot"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Tot_Tot", "HI_2000_2499_Tot"}, res.Table.Columns())
	assert.Equal(t, []string{"HI_1500_1749_Tot"}, res.Missing)
	v, _ := res.Table.Value("10206", "HI_2000_2499_Tot")
	assert.Equal(t, 0.0, v)
}

func TestExtractCSVPolicies(t *testing.T) {
	ctx := context.Background()
	path := writeCSV(t)

	_, err := Extract(ctx, Source{Name: "G33", Input: path, Key: key, Required: []string{"Tot_P_P"}})
	assert.True(t, errors.Is(err, table.ErrMissingColumn), "missing required column aborts")

	_, err = Extract(ctx, Source{Name: "G33", Input: path, Key: key, Columns: []string{"nope", "also_nope"}})
	assert.True(t, errors.Is(err, table.ErrMissingColumn), "nothing selected aborts")

	_, err = Extract(ctx, Source{Name: "G33", Input: path, Key: key, Required: []string{"SA1_NAME"}})
	assert.True(t, errors.Is(err, table.ErrMissingColumn), "required text column aborts")

	res, err := Extract(ctx, Source{Name: "G33", Input: path, Key: key})
	require.NoError(t, err)
	assert.Equal(t, []string{"Tot_Tot", "HI_2000_2499_Tot"}, res.Table.Columns())
	assert.Equal(t, []string{"SA1_NAME"}, res.NonNumeric)

	_, err = Extract(ctx, Source{Name: "G33", Input: filepath.Join(t.TempDir(), "none.csv"), Key: key})
	assert.True(t, errors.Is(err, table.ErrInputMissing))

	_, err = Extract(ctx, Source{Name: "G33", Input: "pack.xlsx", Key: key})
	assert.Error(t, err)

	_, err = Extract(ctx, Source{Name: "G33", Input: path})
	assert.Error(t, err)
}

func TestExtractGeoPackage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "G01.gpkg")

	db, err := gpkg.Create(path)
	require.NoError(t, err)
	cols := []gpkg.Column{
		{Name: key, Type: "TEXT"},
		{Name: "Tot_P_P", Type: "INTEGER"},
		{Name: "AREA_ALBERS_SQKM", Type: "REAL"},
		{Name: "SA1_NAME", Type: "TEXT"},
	}
	require.NoError(t, db.CreateLayer(ctx, "G01_SA1_2021_NSW", proj.GDA2020, cols))
	names := []string{key, "Tot_P_P", "AREA_ALBERS_SQKM", "SA1_NAME"}
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	require.NoError(t, db.Insert(ctx, "G01_SA1_2021_NSW", proj.GDA2020, names, []any{"10205", 120, 1.5, "Alpha"}, poly))
	require.NoError(t, db.Insert(ctx, "G01_SA1_2021_NSW", proj.GDA2020, names, []any{"10206.0", 0, nil, "Beta"}, poly))
	require.NoError(t, db.Close())

	res, err := Extract(ctx, Source{
		Name:     "G01",
		Input:    path,
		Key:      key,
		Columns:  []string{key, "Tot_P_P", "AREA_ALBERS_SQKM", "SA1_NAME", "Age_25_34_yr_P"},
		Required: []string{"Tot_P_P"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Tot_P_P", "AREA_ALBERS_SQKM"}, res.Table.Columns())
	assert.Equal(t, []string{"10205", "10206"}, res.Table.Codes())
	assert.Equal(t, []string{"Age_25_34_yr_P"}, res.Missing)
	assert.Equal(t, []string{"SA1_NAME"}, res.NonNumeric)

	v, _ := res.Table.Value("10205", "AREA_ALBERS_SQKM")
	assert.Equal(t, 1.5, v)
	v, _ = res.Table.Value("10206", "AREA_ALBERS_SQKM")
	assert.Equal(t, 0.0, v)

	all, err := Extract(ctx, Source{Name: "G01", Input: path, Layer: "G01_SA1_2021_NSW", Key: key})
	require.NoError(t, err)
	assert.Equal(t, []string{"Tot_P_P", "AREA_ALBERS_SQKM"}, all.Table.Columns())

	_, err = Extract(ctx, Source{Name: "G01", Input: path, Key: "SA2_CODE_2021"})
	assert.True(t, errors.Is(err, table.ErrMissingColumn))
}
