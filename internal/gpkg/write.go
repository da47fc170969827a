package gpkg

import (
	"context"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/proj"
)

var coreSchema = []string{
	`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
		srs_id INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
	)`,
}

// Column is an attribute column of a new layer
type Column struct {
	Name string
	Type string // SQLite type: TEXT, INTEGER, REAL
}

// CreateLayer adds a feature table with a geometry column "geom"
func (d *DB) CreateLayer(ctx context.Context, name string, crs proj.CRS, columns []Column) error {
	if _, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO gpkg_spatial_ref_sys
			(srs_name, srs_id, organization, organization_coordsys_id, definition)
		VALUES (?, ?, 'EPSG', ?, 'undefined')`, crs.String(), int(crs), int(crs)); err != nil {
		return eris.Wrapf(err, "gpkg: register %s", crs)
	}

	defs := []string{`fid INTEGER PRIMARY KEY AUTOINCREMENT`, `geom BLOB`}
	for _, c := range columns {
		defs = append(defs, quote(c.Name)+" "+c.Type)
	}
	stmts := []struct {
		sql  string
		args []any
	}{
		{"CREATE TABLE " + quote(name) + " (" + strings.Join(defs, ", ") + ")", nil},
		{`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`, []any{name, name, int(crs)}},
		{`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, 'geom', 'MULTIPOLYGON', ?, 0, 0)`, []any{name, int(crs)}},
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s.sql, s.args...); err != nil {
			return eris.Wrapf(err, "gpkg: create layer %s", name)
		}
	}
	return nil
}

// Insert appends a feature. values follow the layer's column order.
func (d *DB) Insert(ctx context.Context, layer string, crs proj.CRS, columns []string, values []any, g orb.Geometry) error {
	var blob []byte
	if g != nil {
		var err error
		if blob, err = EncodeGeometry(g, int32(crs)); err != nil {
			return err
		}
	}
	cols := append([]string{"geom"}, columns...)
	marks := make([]string, len(cols))
	for i := range cols {
		cols[i] = quote(cols[i])
		marks[i] = "?"
	}
	args := append([]any{blob}, values...)
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO "+quote(layer)+" ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(marks, ", ")+")", args...)
	return eris.Wrapf(err, "gpkg: insert into %s", layer)
}

// AddAttributeTable registers a plain table (no geometry) created by the caller
func (d *DB) AddAttributeTable(ctx context.Context, name string, columns []Column) error {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quote(c.Name) + " " + c.Type
	}
	if _, err := d.db.ExecContext(ctx, "CREATE TABLE "+quote(name)+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return eris.Wrapf(err, "gpkg: create table %s", name)
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO gpkg_contents (table_name, data_type, identifier) VALUES (?, 'attributes', ?)`, name, name)
	return eris.Wrapf(err, "gpkg: register table %s", name)
}

// InsertRow appends a row to an attribute table
func (d *DB) InsertRow(ctx context.Context, tableName string, columns []string, values []any) error {
	cols := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quote(c)
		marks[i] = "?"
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO "+quote(tableName)+" ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(marks, ", ")+")", values...)
	return eris.Wrapf(err, "gpkg: insert into %s", tableName)
}
