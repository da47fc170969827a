package region

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/storesite/internal/gpkg"
	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/table"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

const twoRegions = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"SA1_CODE_2021": "10205"},
     "geometry": {"type": "Polygon", "coordinates": [[[150,-34],[151,-34],[151,-33],[150,-33],[150,-34]]]}},
    {"type": "Feature", "properties": {"SA1_CODE_2021": 10206},
     "geometry": {"type": "Polygon", "coordinates": [[[151,-34],[152,-34],[152,-33],[151,-33],[151,-34]]]}},
    {"type": "Feature", "properties": {"SA1_CODE_2021": "10207"}, "geometry": null}
  ]
}`

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoadGeoJSON(t *testing.T) {
	s, err := Load(context.Background(), writeFile(t, "sa1.geojson", twoRegions), Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultKey, s.Key)
	assert.Equal(t, proj.WGS84, s.CRS)
	assert.Equal(t, []string{"10205", "10206"}, s.Codes())
	assert.Equal(t, 1, s.Empty)
	assert.True(t, s.Has("10206"))
	assert.False(t, s.Has("10207"))
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Load(ctx, filepath.Join(t.TempDir(), "missing.gpkg"), Options{})
	assert.True(t, errors.Is(err, table.ErrInputMissing))

	_, err = Load(ctx, writeFile(t, "sa1.kml", "<kml/>"), Options{})
	assert.Error(t, err)

	_, err = Load(ctx, writeFile(t, "sa1.geojson", twoRegions), Options{Key: "SA2_CODE_2021"})
	assert.True(t, errors.Is(err, table.ErrMissingColumn))

	dup := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"code":"1"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
	  {"type":"Feature","properties":{"code":"1.0"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`
	_, err = Load(ctx, writeFile(t, "dup.geojson", dup), Options{Key: "code"})
	assert.True(t, errors.Is(err, table.ErrDuplicateKey))
}

func TestLocateAndJoin(t *testing.T) {
	s, err := Load(context.Background(), writeFile(t, "sa1.geojson", twoRegions), Options{})
	require.NoError(t, err)
	ix, err := NewIndex(s)
	require.NoError(t, err)

	code, ok := ix.Locate(150.5, -33.5)
	require.True(t, ok)
	assert.Equal(t, "10205", code)

	code, ok = ix.Locate(151, -33.5)
	require.True(t, ok, "shared border belongs to the first region")
	assert.Equal(t, "10205", code)

	_, ok = ix.Locate(10, 10)
	assert.False(t, ok)

	points := []orb.Point{
		{150.5, -33.5},
		{151.5, -33.5},
		{151, -33.5},
		{10, 10},
		{151.5, -33.5},
	}
	got := ix.Join(points)
	assert.Equal(t, []string{"10205", "10206", "10205", "", "10206"}, got)

	for i, p := range points {
		code, _ := ix.Locate(p[0], p[1])
		assert.Equal(t, got[i], code, "Join and Locate agree for point %d", i)
	}

	assert.Empty(t, ix.Join(nil))
}

func TestJoinWithHoles(t *testing.T) {
	donut := orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {4, 6}, {6, 6}, {6, 4}, {4, 4}},
	}
	s, err := NewSet("code", proj.WGS84, []Region{
		{Code: "outer", Geometry: orb.MultiPolygon{donut}},
		{Code: "inner", Geometry: orb.MultiPolygon{square(4, 4, 6, 6)}},
	})
	require.NoError(t, err)
	ix, err := NewIndex(s)
	require.NoError(t, err)

	assert.Equal(t, []string{"outer", "inner"}, ix.Join([]orb.Point{{1, 1}, {5, 5}}))
}

func TestIndexReprojectsIntoMercator(t *testing.T) {
	x0, y0 := mercator(t, 150, -34)
	x1, y1 := mercator(t, 151, -33)
	s, err := NewSet("code", proj.WebMercator, []Region{
		{Code: "m", Geometry: orb.MultiPolygon{square(x0, y0, x1, y1)}},
	})
	require.NoError(t, err)
	ix, err := NewIndex(s)
	require.NoError(t, err)

	code, ok := ix.Locate(150.5, -33.5)
	require.True(t, ok)
	assert.Equal(t, "m", code)
}

func mercator(t *testing.T, lon, lat float64) (float64, float64) {
	t.Helper()
	tr, err := proj.NewTransformer(proj.WGS84, proj.WebMercator)
	require.NoError(t, err)
	return tr.Transform(lon, lat)
}

func TestIndexRejectsUnknownCRS(t *testing.T) {
	s, err := NewSet("code", proj.Unknown, []Region{{Code: "a", Geometry: orb.MultiPolygon{square(0, 0, 1, 1)}}})
	require.NoError(t, err)

	_, err = NewIndex(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, proj.ErrUnsupportedCRS))

	s.CRS = proj.CRS(28356)
	_, err = NewIndex(s)
	assert.True(t, errors.Is(err, proj.ErrUnsupportedCRS))
}

func TestLoadGeoPackage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sa1.gpkg")

	db, err := gpkg.Create(path)
	require.NoError(t, err)
	require.NoError(t, db.CreateLayer(ctx, "SA1_2021_AUST_GDA2020", proj.GDA2020, []gpkg.Column{{Name: "SA1_CODE_2021", Type: "TEXT"}}))
	require.NoError(t, db.Insert(ctx, "SA1_2021_AUST_GDA2020", proj.GDA2020, []string{"SA1_CODE_2021"}, []any{"10205"}, square(150, -34, 151, -33)))
	require.NoError(t, db.Insert(ctx, "SA1_2021_AUST_GDA2020", proj.GDA2020, []string{"SA1_CODE_2021"}, []any{"010205"}, square(151, -34, 152, -33)))
	require.NoError(t, db.Close())

	s, err := Load(ctx, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, proj.GDA2020, s.CRS)
	assert.Equal(t, []string{"10205", "010205"}, s.Codes())

	ix, err := NewIndex(s)
	require.NoError(t, err)
	code, ok := ix.Locate(151.5, -33.5)
	require.True(t, ok)
	assert.Equal(t, "010205", code)

	_, err = Load(ctx, path, Options{Layer: "SA2"})
	assert.True(t, errors.Is(err, gpkg.ErrLayerNotFound))
}

func TestLoadShapefile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sa1.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("SA1_CODE21", 11)}))

	// Outer ring clockwise, hole counter-clockwise
	parts := [][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}},
		{{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}, {X: 4, Y: 4}},
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	n := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(n), 0, "10205"))
	w.Close()

	prj := `GEOGCS["GCS_GDA2020",DATUM["D_GDA2020",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sa1.prj"), []byte(prj), 0644))

	s, err := Load(context.Background(), path, Options{Key: "SA1_CODE21"})
	require.NoError(t, err)
	assert.Equal(t, proj.GDA2020, s.CRS)
	require.Equal(t, 1, s.Len())
	require.Len(t, s.Regions[0].Geometry, 1)
	assert.Len(t, s.Regions[0].Geometry[0], 2, "hole attached to its outer ring")

	ix, err := NewIndex(s)
	require.NoError(t, err)
	_, ok := ix.Locate(5, 5)
	assert.False(t, ok, "point in the hole")
	code, ok := ix.Locate(1, 1)
	require.True(t, ok)
	assert.Equal(t, "10205", code)
}
