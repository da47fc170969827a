package region

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/table"
)

// loadShapefile reads a polygon shapefile. DBF field names are limited to ten
// characters, so the key usually has to be given explicitly (e.g. SA1_CODE21).
// The CRS comes from the sibling .prj file.
func loadShapefile(path string, opts Options) (*Set, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	keyIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if name == opts.Key {
			keyIdx = i
			break
		}
		if keyIdx < 0 && strings.EqualFold(name, opts.Key) {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return nil, eris.Wrapf(table.ErrMissingColumn, "region key %q in %s", opts.Key, path)
	}

	s := newSet(opts.Key, prjCRS(path))
	for reader.Next() {
		_, shape := reader.Shape()
		code := strings.TrimSpace(strings.TrimRight(reader.Attribute(keyIdx), "\x00"))
		var g orb.Geometry
		if p, ok := shape.(*shp.Polygon); ok {
			g = polygonRings(p)
		}
		if err := s.add(code, g); err != nil {
			return nil, eris.Wrapf(err, "region: %s", path)
		}
	}
	return s, nil
}

func prjCRS(shpPath string) proj.CRS {
	data, err := os.ReadFile(strings.TrimSuffix(shpPath, ".shp") + ".prj")
	if err != nil {
		return proj.Unknown
	}
	return proj.FromWKT(string(data))
}

// polygonRings groups shapefile parts into polygons. Outer rings are
// clockwise; each counter-clockwise ring is a hole of the preceding outer ring.
func polygonRings(p *shp.Polygon) orb.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{p.Points[j].X, p.Points[j].Y})
		}

		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}
	return mp
}
