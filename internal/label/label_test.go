package label

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/storesite/internal/category"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
)

func square(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func setup(t *testing.T) (*region.Index, *table.Table) {
	t.Helper()
	set, err := region.NewSet("SA1_CODE_2021", proj.WGS84, []region.Region{
		{Code: "R1", Geometry: square(0, 0, 1, 1)},
		{Code: "R2", Geometry: square(1, 0, 2, 1)},
	})
	require.NoError(t, err)
	ix, err := region.NewIndex(set)
	require.NoError(t, err)

	features, err := table.New("SA1_CODE_2021", []string{"pop_density"})
	require.NoError(t, err)
	require.NoError(t, features.Append("R1", []float64{10}))
	require.NoError(t, features.Append("R2", []float64{20}))
	return ix, features
}

func TestAssign(t *testing.T) {
	ix, features := setup(t)
	stores := []extract.Point{
		{Category: category.StoreLabel, Lon: 0.5, Lat: 0.5},
	}

	res, err := Assign(features, ix, stores, nil)
	require.NoError(t, err)

	out := res.Table
	assert.Equal(t, []string{"pop_density", CountColumn, LabelColumn}, out.Columns())
	assert.Equal(t, []string{"R1", "R2"}, out.Codes())

	r1, _ := out.Row("R1")
	assert.Equal(t, []float64{10, 1, 1}, r1)
	r2, _ := out.Row("R2")
	assert.Equal(t, []float64{20, 0, 0}, r2)

	assert.Equal(t, 1, res.Located)
	assert.Equal(t, 1, res.Positive)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, res.Distribution)
	assert.Equal(t, []int{0, 1}, res.Counts())
}

func TestAssignKeepsRowsWithoutStoresOrRegions(t *testing.T) {
	ix, features := setup(t)
	require.NoError(t, features.Append("R9", []float64{30}))

	stores := []extract.Point{
		{Category: category.StoreLabel, Lon: 1.5, Lat: 0.5},
		{Category: category.StoreLabel, Lon: 1.6, Lat: 0.6},
		{Category: category.StoreLabel, Lon: 50, Lat: 50},
	}
	res, err := Assign(features, ix, stores, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Table.Len())
	assert.Equal(t, 1, res.UnknownRegions)
	assert.Equal(t, 1, res.Unlocated)

	v, _ := res.Table.Value("R2", CountColumn)
	assert.Equal(t, 2.0, v)
	v, _ = res.Table.Value("R9", LabelColumn)
	assert.Equal(t, 0.0, v)
}

func TestAssignCountsOnlyStoreCategories(t *testing.T) {
	ix, features := setup(t)
	points := []extract.Point{
		{Category: category.StoreLabel, Lon: 0.5, Lat: 0.5},
		{Category: "school_count", Lon: 0.6, Lat: 0.6},
		{Category: "cafe_count", Lon: 1.5, Lat: 0.5},
		{Category: "milk_bar", Lon: 1.4, Lat: 0.4},
	}

	res, err := Assign(features, ix, points, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ignored)
	assert.Equal(t, 1, res.Located)
	v, _ := res.Table.Value("R2", CountColumn)
	assert.Equal(t, 0.0, v)

	res, err = Assign(features, ix, points, []string{category.StoreLabel, "milk_bar"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ignored)
	assert.Equal(t, 2, res.Positive)
}

func TestAssignNoStores(t *testing.T) {
	ix, features := setup(t)

	res, err := Assign(features, ix, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Positive)
	assert.Equal(t, 2, res.Table.Len())
}

func TestAssignRejectsExistingCountColumn(t *testing.T) {
	ix, _ := setup(t)
	features, err := table.New("SA1_CODE_2021", []string{CountColumn})
	require.NoError(t, err)

	_, err = Assign(features, ix, nil, nil)
	assert.True(t, errors.Is(err, table.ErrColumnConflict))
}
