package aggregate

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/region"
)

func square(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func testIndex(t *testing.T) *region.Index {
	t.Helper()
	set, err := region.NewSet(region.DefaultKey, proj.GDA2020, []region.Region{
		{Code: "10205", Geometry: square(150, -34, 151, -33)},
		{Code: "10206", Geometry: square(151, -34, 152, -33)},
	})
	require.NoError(t, err)
	ix, err := region.NewIndex(set)
	require.NoError(t, err)
	return ix
}

var categories = []string{"school_count", "cafe_count"}

func TestAggregate(t *testing.T) {
	points := []extract.Point{
		{Category: "school_count", Lon: 150.5, Lat: -33.5},
		{Category: "school_count", Lon: 150.6, Lat: -33.6},
		{Category: "cafe_count", Lon: 151.5, Lat: -33.5},
		{Category: "cafe_count", Lon: 10, Lat: 10},
		{Category: "bank_count", Lon: 151.5, Lat: -33.5},
	}

	res, err := Aggregate(points, testIndex(t), categories)
	require.NoError(t, err)

	assert.Empty(t, res.Warning)
	assert.Equal(t, 3, res.Located)
	assert.Equal(t, 1, res.Outside)
	assert.Equal(t, 1, res.Uncategorised)

	tbl := res.Table
	assert.Equal(t, region.DefaultKey, tbl.Key())
	assert.Equal(t, categories, tbl.Columns())
	assert.Equal(t, []string{"10205", "10206"}, tbl.Codes())

	row, _ := tbl.Row("10205")
	assert.Equal(t, []float64{2, 0}, row)
	row, _ = tbl.Row("10206")
	assert.Equal(t, []float64{0, 1}, row)
}

func TestAggregateEmptyInputKeepsShape(t *testing.T) {
	res, err := Aggregate(nil, testIndex(t), categories)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 2, res.Table.Len())
	require.NoError(t, res.Table.Each(func(code string, row []float64) error {
		assert.Equal(t, []float64{0, 0}, row, code)
		return nil
	}))
}

func TestAggregateNoOverlapWarns(t *testing.T) {
	points := []extract.Point{{Category: "school_count", Lon: -120, Lat: 40}}

	res, err := Aggregate(points, testIndex(t), categories)
	require.NoError(t, err)
	assert.Contains(t, res.Warning, "none of 1 points")
	assert.Equal(t, 2, res.Table.Len())
}

func TestAggregateUnknownCategoriesWarns(t *testing.T) {
	points := []extract.Point{
		{Category: "store", Lon: 150.5, Lat: -33.5},
		{Category: "store", Lon: 151.5, Lat: -33.5},
	}

	res, err := Aggregate(points, testIndex(t), categories)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uncategorised)
	assert.Contains(t, res.Warning, "category rules do not match")
	assert.NotContains(t, res.Warning, "CRS")
}

func TestAggregateNeedsCategories(t *testing.T) {
	_, err := Aggregate(nil, testIndex(t), nil)
	assert.Error(t, err)
}
