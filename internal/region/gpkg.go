package region

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/gpkg"
	"github.com/wegman-software/storesite/internal/table"
)

func loadGeoPackage(ctx context.Context, path string, opts Options) (*Set, error) {
	db, err := gpkg.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	layer, err := db.Layer(ctx, opts.Layer)
	if err != nil {
		return nil, err
	}
	cols, err := db.Columns(ctx, layer.Name)
	if err != nil {
		return nil, err
	}
	if !contains(cols, opts.Key) {
		return nil, eris.Wrapf(table.ErrMissingColumn, "region key %q in layer %s", opts.Key, layer.Name)
	}
	crs, err := db.CRS(ctx, layer.SRSID)
	if err != nil {
		return nil, err
	}

	s := newSet(opts.Key, crs)
	err = db.Features(ctx, layer, []string{opts.Key}, func(f gpkg.Feature) error {
		return s.add(keyString(f.Attrs[0]), f.Geometry)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "region: %s", path)
	}
	return s, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
