package region

import (
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/table"
)

// loadGeoJSON reads a FeatureCollection. Coordinates are WGS84 unless the
// caller overrides the CRS.
func loadGeoJSON(path string, opts Options) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "region: parse %s", path)
	}

	s := newSet(opts.Key, proj.WGS84)
	for i, f := range fc.Features {
		v, ok := f.Properties[opts.Key]
		if !ok {
			return nil, eris.Wrapf(table.ErrMissingColumn, "region key %q in feature %d of %s", opts.Key, i, path)
		}
		if err := s.add(keyString(v), f.Geometry); err != nil {
			return nil, eris.Wrapf(err, "region: %s", path)
		}
	}
	return s, nil
}
