package loader

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
)

func TestPrepare(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS postgis").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "storesite"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	l := New(mock, Options{Schema: "storesite"})
	require.NoError(t, l.Prepare(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparePublicSkipsSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS postgis").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	l := New(mock, Options{})
	require.NoError(t, l.Prepare(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPoints(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	points := []extract.Point{
		{Category: "store", Type: osm.TypeNode, ID: 2, Lon: 138.6, Lat: -34.9},
		{Category: "store", Type: osm.TypeWay, ID: 101, Lon: 138.7, Lat: -34.8},
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"_tmp_load_store_locations"},
		[]string{"category", "osm_type", "osm_id", "longitude", "latitude", "geom_wkb"},
	).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("ANALYZE").WillReturnResult(pgxmock.NewResult("ANALYZE", 0))

	l := New(mock, Options{CreateIndexes: true})
	n, err := l.LoadPoints(context.Background(), "store_locations", points)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"store_locations"}, l.Stats().Tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRegionsDropsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sq := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	set, err := region.NewSet("SA1_CODE_2021", proj.GDA2020, []region.Region{
		{Code: "40101100101", Geometry: orb.MultiPolygon{sq}},
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS").WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`GEOMETRY\(MultiPolygon, 7844\)`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_load_regions"}, []string{"code", "geom_wkb"}).WillReturnResult(1)
	mock.ExpectExec("ST_GeomFromEWKB").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	l := New(mock, Options{DropExisting: true})
	n, err := l.LoadRegions(context.Background(), "regions", set)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tb, err := table.New("SA1_CODE_2021", []string{"store_count", "is_suitable_location"})
	require.NoError(t, err)
	require.NoError(t, tb.Append("40101100101", []float64{2, 1}))
	require.NoError(t, tb.Append("40101100102", []float64{0, 0}))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"public", "final_training_dataset"},
		[]string{"SA1_CODE_2021", "store_count", "is_suitable_location"},
	).WillReturnResult(2)
	mock.ExpectCommit()

	l := New(mock, Options{})
	n, err := l.LoadTable(context.Background(), "final_training_dataset", tb)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), l.Stats().RowsLoaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadBeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

	l := New(mock, Options{})
	_, err = l.LoadPoints(context.Background(), "feature_points", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}
