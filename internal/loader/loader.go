// Package loader publishes points, region boundaries and region tables to
// PostgreSQL/PostGIS with COPY.
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/config"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
	"github.com/wegman-software/storesite/internal/wkb"
)

// Pool is the subset of pgxpool.Pool the loader uses
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Options controls table handling
type Options struct {
	Schema        string
	DropExisting  bool // drop target tables instead of truncating them
	CreateIndexes bool // GIST on geometries, ANALYZE afterwards
}

// Stats holds loader statistics
type Stats struct {
	RowsLoaded int64
	Tables     []string
}

// Loader copies pipeline outputs into PostgreSQL
type Loader struct {
	pool  Pool
	opts  Options
	stats Stats
}

// Connect opens a pool from the database settings
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, eris.Wrap(err, "loader: parse connection string")
	}
	poolConfig.MaxConns = int32(cfg.Workers)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, eris.Wrap(err, "loader: connect to PostgreSQL")
	}
	return pool, nil
}

// New creates a loader on an open pool
func New(pool Pool, opts Options) *Loader {
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	return &Loader{pool: pool, opts: opts}
}

// Close closes the pool
func (l *Loader) Close() {
	l.pool.Close()
}

// Stats returns what has been loaded so far
func (l *Loader) Stats() Stats {
	return l.stats
}

// Prepare ensures PostGIS and the target schema exist
func (l *Loader) Prepare(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return eris.Wrap(err, "loader: create PostGIS extension")
	}
	if l.opts.Schema != "public" {
		sql := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{l.opts.Schema}.Sanitize())
		if _, err := l.pool.Exec(ctx, sql); err != nil {
			return eris.Wrap(err, "loader: create schema")
		}
	}
	return nil
}

func (l *Loader) qualified(name string) string {
	return pgx.Identifier{l.opts.Schema, name}.Sanitize()
}

// resetTable drops or truncates name and then creates it with columns
func (l *Loader) resetTable(ctx context.Context, tx pgx.Tx, name, columns string) error {
	full := l.qualified(name)
	if l.opts.DropExisting {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", full)); err != nil {
			return eris.Wrapf(err, "loader: drop %s", name)
		}
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", full, columns)); err != nil {
		return eris.Wrapf(err, "loader: create %s", name)
	}
	if !l.opts.DropExisting {
		if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE %s", full)); err != nil {
			return eris.Wrapf(err, "loader: truncate %s", name)
		}
	}
	return nil
}

// copyGeometry stages rows with a bytea EWKB column in a temp table and
// inserts them into name converting the last column to geometry
func (l *Loader) copyGeometry(ctx context.Context, tx pgx.Tx, name string, cols []string, rows [][]any) (int64, error) {
	tmp := "_tmp_load_" + name
	staged := append(append([]string(nil), cols...), "geom_wkb")

	var defs []string
	for _, c := range staged {
		defs = append(defs, pgx.Identifier{c}.Sanitize()+" "+stagingType(c))
	}
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{tmp}.Sanitize(), strings.Join(defs, ", "))
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "loader: create temp table for %s", name)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, staged, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "loader: COPY into temp table for %s", name)
	}

	colList := quoteAndJoin(cols)
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s, geom) SELECT %s, ST_GeomFromEWKB(geom_wkb) FROM %s",
		l.qualified(name), colList, colList, pgx.Identifier{tmp}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, insertSQL); err != nil {
		return 0, eris.Wrapf(err, "loader: insert into %s", name)
	}
	return n, nil
}

func stagingType(col string) string {
	switch col {
	case "osm_id":
		return "BIGINT"
	case "longitude", "latitude":
		return "DOUBLE PRECISION"
	case "geom_wkb":
		return "BYTEA"
	}
	return "TEXT"
}

// LoadPoints loads extracted points into a point table
func (l *Loader) LoadPoints(ctx context.Context, name string, points []extract.Point) (int64, error) {
	enc := wkb.NewEncoder(32, wkb.SRID4326)
	rows := make([][]any, len(points))
	for i, p := range points {
		// the encoder buffer is reused, so copy
		geom := append([]byte(nil), enc.EncodePoint(p.Location())...)
		rows[i] = []any{p.Category, string(p.Type), p.ID, p.Lon, p.Lat, geom}
	}

	columns := `category TEXT NOT NULL,
		osm_type TEXT NOT NULL,
		osm_id BIGINT NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		geom GEOMETRY(Point, 4326)`

	return l.load(ctx, name, func(tx pgx.Tx) (int64, error) {
		if err := l.resetTable(ctx, tx, name, columns); err != nil {
			return 0, err
		}
		return l.copyGeometry(ctx, tx, name, []string{"category", "osm_type", "osm_id", "longitude", "latitude"}, rows)
	}, true)
}

// LoadRegions loads region boundaries keyed by their code
func (l *Loader) LoadRegions(ctx context.Context, name string, set *region.Set) (int64, error) {
	srid := int(set.CRS)
	enc := wkb.NewEncoder(1024, srid)
	rows := make([][]any, len(set.Regions))
	for i, r := range set.Regions {
		rows[i] = []any{r.Code, append([]byte(nil), enc.EncodeMultiPolygon(r.Geometry)...)}
	}

	columns := fmt.Sprintf("code TEXT PRIMARY KEY, geom GEOMETRY(MultiPolygon, %d)", srid)

	return l.load(ctx, name, func(tx pgx.Tx) (int64, error) {
		if err := l.resetTable(ctx, tx, name, columns); err != nil {
			return 0, err
		}
		return l.copyGeometry(ctx, tx, name, []string{"code"}, rows)
	}, true)
}

// LoadTable loads a region table: the key as text, every column as double precision
func (l *Loader) LoadTable(ctx context.Context, name string, t *table.Table) (int64, error) {
	cols := append([]string{t.Key()}, t.Columns()...)
	defs := []string{pgx.Identifier{t.Key()}.Sanitize() + " TEXT PRIMARY KEY"}
	for _, c := range t.Columns() {
		defs = append(defs, pgx.Identifier{c}.Sanitize()+" DOUBLE PRECISION NOT NULL")
	}

	rows := make([][]any, 0, t.Len())
	_ = t.Each(func(code string, row []float64) error {
		rec := make([]any, 0, len(row)+1)
		rec = append(rec, code)
		for _, v := range row {
			rec = append(rec, v)
		}
		rows = append(rows, rec)
		return nil
	})

	return l.load(ctx, name, func(tx pgx.Tx) (int64, error) {
		if err := l.resetTable(ctx, tx, name, strings.Join(defs, ", ")); err != nil {
			return 0, err
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{l.opts.Schema, name}, cols, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "loader: COPY into %s", name)
		}
		return n, nil
	}, false)
}

// load runs fn in a transaction, then indexes the table when asked
func (l *Loader) load(ctx context.Context, name string, fn func(pgx.Tx) (int64, error), spatial bool) (int64, error) {
	log := logger.Get()
	log.Info("Loading table", zap.String("table", name))

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "loader: begin tx")
	}
	defer tx.Rollback(ctx)

	n, err := fn(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "loader: commit %s", name)
	}

	if l.opts.CreateIndexes {
		if err := l.index(ctx, name, spatial); err != nil {
			return 0, err
		}
	}

	l.stats.RowsLoaded += n
	l.stats.Tables = append(l.stats.Tables, name)
	log.Info("Table loaded", zap.String("table", name), zap.Int64("rows", n))
	return n, nil
}

func (l *Loader) index(ctx context.Context, name string, spatial bool) error {
	full := l.qualified(name)
	if spatial {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
			pgx.Identifier{name + "_geom_idx"}.Sanitize(), full)
		if _, err := l.pool.Exec(ctx, sql); err != nil {
			return eris.Wrapf(err, "loader: index %s", name)
		}
	}
	if _, err := l.pool.Exec(ctx, fmt.Sprintf("ANALYZE %s", full)); err != nil {
		return eris.Wrapf(err, "loader: analyze %s", name)
	}
	return nil
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
