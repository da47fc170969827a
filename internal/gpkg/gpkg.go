// Package gpkg reads feature layers from OGC GeoPackage files
package gpkg

import (
	"context"
	"database/sql"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	_ "modernc.org/sqlite"

	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/table"
)

// ErrLayerNotFound is returned when a named layer does not exist
var ErrLayerNotFound = eris.New("gpkg: layer not found")

// DB is an open GeoPackage
type DB struct {
	path string
	db   *sql.DB
}

// Layer describes one feature table
type Layer struct {
	Name           string
	GeometryColumn string
	SRSID          int32
}

// Open opens an existing GeoPackage
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(table.ErrInputMissing, "%s", path)
		}
		return nil, eris.Wrapf(err, "gpkg: stat %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	return &DB{path: path, db: db}, nil
}

// Create makes a new, empty GeoPackage with the core metadata tables
func Create(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: create %s", path)
	}
	for _, stmt := range coreSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "gpkg: create %s", path)
		}
	}
	return &DB{path: path, db: db}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Layers lists the feature layers by name
func (d *DB) Layers(ctx context.Context) ([]Layer, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name`)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: list layers in %s", d.path)
	}
	defer rows.Close()

	var layers []Layer
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.Name, &l.GeometryColumn, &l.SRSID); err != nil {
			return nil, eris.Wrap(err, "gpkg: scan layer")
		}
		layers = append(layers, l)
	}
	return layers, eris.Wrap(rows.Err(), "gpkg: list layers")
}

// Layer returns the named layer. An empty name selects the only feature layer.
func (d *DB) Layer(ctx context.Context, name string) (*Layer, error) {
	layers, err := d.Layers(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if len(layers) == 1 {
			return &layers[0], nil
		}
		names := make([]string, len(layers))
		for i, l := range layers {
			names[i] = l.Name
		}
		return nil, eris.Errorf("gpkg: %s has %d feature layers, choose one of [%s]", d.path, len(layers), strings.Join(names, ", "))
	}
	for i := range layers {
		if layers[i].Name == name {
			return &layers[i], nil
		}
	}
	return nil, eris.Wrapf(ErrLayerNotFound, "%q in %s", name, d.path)
}

// Tables lists every user table, feature or attribute
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT table_name FROM gpkg_contents ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: list tables in %s", d.path)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "gpkg: scan table name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "gpkg: list tables")
}

// Columns returns the column names of a table in declaration order
func (d *DB) Columns(ctx context.Context, tableName string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, tableName)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: columns of %s", tableName)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "gpkg: scan column")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "gpkg: columns")
	}
	if len(cols) == 0 {
		return nil, eris.Wrapf(ErrLayerNotFound, "%q in %s", tableName, d.path)
	}
	return cols, nil
}

// CRS resolves a layer's spatial reference to a supported CRS. Returns
// proj.Unknown when the SRS is not an EPSG code this tool understands.
func (d *DB) CRS(ctx context.Context, srsID int32) (proj.CRS, error) {
	var org string
	var code int
	var def string
	err := d.db.QueryRowContext(ctx, `
		SELECT organization, organization_coordsys_id, definition
		FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, srsID).Scan(&org, &code, &def)
	if err == sql.ErrNoRows {
		return proj.Unknown, nil
	}
	if err != nil {
		return proj.Unknown, eris.Wrapf(err, "gpkg: spatial reference %d", srsID)
	}
	if strings.EqualFold(org, "EPSG") {
		if c := proj.CRS(code); c.Supported() {
			return c, nil
		}
	}
	return proj.FromWKT(def), nil
}

// Feature is one row of a feature layer
type Feature struct {
	Attrs    []any
	Geometry orb.Geometry
}

// Features streams the given attribute columns and the geometry of every row
func (d *DB) Features(ctx context.Context, l *Layer, columns []string, fn func(Feature) error) error {
	sel := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		sel = append(sel, quote(c))
	}
	sel = append(sel, quote(l.GeometryColumn))

	rows, err := d.db.QueryContext(ctx, "SELECT "+strings.Join(sel, ", ")+" FROM "+quote(l.Name))
	if err != nil {
		return eris.Wrapf(err, "gpkg: read layer %s", l.Name)
	}
	defer rows.Close()

	for rows.Next() {
		attrs := make([]any, len(columns))
		var blob []byte
		dest := make([]any, 0, len(columns)+1)
		for i := range attrs {
			dest = append(dest, &attrs[i])
		}
		dest = append(dest, &blob)
		if err := rows.Scan(dest...); err != nil {
			return eris.Wrapf(err, "gpkg: scan %s", l.Name)
		}

		var g orb.Geometry
		if len(blob) > 0 {
			if g, _, err = DecodeGeometry(blob); err != nil {
				return eris.Wrapf(err, "gpkg: layer %s", l.Name)
			}
		}
		if err := fn(Feature{Attrs: attrs, Geometry: g}); err != nil {
			return err
		}
	}
	return eris.Wrapf(rows.Err(), "gpkg: read layer %s", l.Name)
}

// Rows streams the given columns of any table, feature or attribute
func (d *DB) Rows(ctx context.Context, tableName string, columns []string, fn func([]any) error) error {
	sel := make([]string, len(columns))
	for i, c := range columns {
		sel[i] = quote(c)
	}
	rows, err := d.db.QueryContext(ctx, "SELECT "+strings.Join(sel, ", ")+" FROM "+quote(tableName))
	if err != nil {
		return eris.Wrapf(err, "gpkg: read table %s", tableName)
	}
	defer rows.Close()

	for rows.Next() {
		vals := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return eris.Wrapf(err, "gpkg: scan %s", tableName)
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return eris.Wrapf(rows.Err(), "gpkg: read table %s", tableName)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
