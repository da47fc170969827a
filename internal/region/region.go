// Package region loads statistical-area polygons and answers
// point-in-region queries against them.
package region

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/table"
)

// DefaultKey is the region code column of the 2021 ABS SA1 layers
const DefaultKey = "SA1_CODE_2021"

// Region is one statistical area
type Region struct {
	Code     string
	Geometry orb.MultiPolygon
	Bound    orb.Bound
}

// Set is an ordered collection of regions with unique codes, all in one CRS
type Set struct {
	Key     string
	CRS     proj.CRS
	Regions []Region
	// Empty counts features skipped for having no geometry
	Empty int

	byCode map[string]int
	bound  orb.Bound
}

// Options control how a region file is read
type Options struct {
	Layer string   // GeoPackage layer; empty selects the only one
	Key   string   // code attribute, DefaultKey when empty
	CRS   proj.CRS // overrides the CRS declared by the file
}

func newSet(key string, crs proj.CRS) *Set {
	return &Set{Key: key, CRS: crs, byCode: make(map[string]int)}
}

// NewSet builds a set from in-memory regions
func NewSet(key string, crs proj.CRS, regions []Region) (*Set, error) {
	s := newSet(key, crs)
	for _, r := range regions {
		if err := s.add(r.Code, r.Geometry); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) add(code string, g orb.Geometry) error {
	code = table.NormalizeKey(code)
	if code == "" {
		return eris.Errorf("region: feature %d has an empty %s", len(s.Regions)+s.Empty+1, s.Key)
	}
	if _, ok := s.byCode[code]; ok {
		return eris.Wrapf(table.ErrDuplicateKey, "region %s=%s", s.Key, code)
	}

	var mp orb.MultiPolygon
	switch t := g.(type) {
	case orb.MultiPolygon:
		mp = t
	case orb.Polygon:
		mp = orb.MultiPolygon{t}
	case nil:
	default:
		return eris.Errorf("region: %s has unsupported geometry %s", code, g.GeoJSONType())
	}
	if len(mp) == 0 {
		s.Empty++
		return nil
	}

	b := mp.Bound()
	if len(s.Regions) == 0 {
		s.bound = b
	} else {
		s.bound = s.bound.Union(b)
	}
	s.byCode[code] = len(s.Regions)
	s.Regions = append(s.Regions, Region{Code: code, Geometry: mp, Bound: b})
	return nil
}

// Len returns the number of regions
func (s *Set) Len() int { return len(s.Regions) }

// Codes returns the region codes in load order
func (s *Set) Codes() []string {
	out := make([]string, len(s.Regions))
	for i, r := range s.Regions {
		out[i] = r.Code
	}
	return out
}

// Has reports whether code is a region of the set
func (s *Set) Has(code string) bool {
	_, ok := s.byCode[code]
	return ok
}

// Bound is the envelope of every region
func (s *Set) Bound() orb.Bound { return s.bound }

// Load reads regions from a GeoPackage (.gpkg), Shapefile (.shp) or GeoJSON
// (.geojson, .json) file.
func Load(ctx context.Context, path string, opts Options) (*Set, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(table.ErrInputMissing, "%s", path)
		}
		return nil, eris.Wrapf(err, "region: stat %s", path)
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}

	var s *Set
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpkg":
		s, err = loadGeoPackage(ctx, path, opts)
	case ".shp":
		s, err = loadShapefile(path, opts)
	case ".geojson", ".json":
		s, err = loadGeoJSON(path, opts)
	default:
		return nil, eris.Errorf("region: unsupported region file %s (want .gpkg, .shp or .geojson)", path)
	}
	if err != nil {
		return nil, err
	}

	if opts.CRS != proj.Unknown {
		s.CRS = opts.CRS
	}
	if s.Len() == 0 {
		return nil, eris.Errorf("region: %s contains no regions with geometry", path)
	}

	logger.Stage("region").Info("Regions loaded",
		zap.String("path", path),
		zap.String("key", s.Key),
		zap.Stringer("crs", s.CRS),
		zap.Int("regions", s.Len()),
		zap.Int("empty_geometries", s.Empty))
	return s, nil
}

// keyString renders an attribute value as a region code
func keyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return table.NormalizeKey(t)
	case []byte:
		return table.NormalizeKey(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return table.NormalizeKey(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return ""
	}
}
