package region

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/proj"
)

// Index answers containment queries for WGS84 points against a region set.
// Regions are treated as non-overlapping: when a point lies on a shared
// border it belongs to the region that comes first in the set.
type Index struct {
	set *Set
	tr  *proj.Transformer
}

// NewIndex prepares a set for point queries. Regions in an unknown or
// unsupported CRS fail with proj.ErrUnsupportedCRS.
func NewIndex(set *Set) (*Index, error) {
	if set.CRS == proj.Unknown {
		return nil, eris.Wrapf(proj.ErrUnsupportedCRS, "regions have no recognised CRS; set one explicitly")
	}
	tr, err := proj.NewTransformer(proj.WGS84, set.CRS)
	if err != nil {
		return nil, eris.Wrap(err, "region: index")
	}
	return &Index{set: set, tr: tr}, nil
}

// Set returns the indexed regions
func (ix *Index) Set() *Set { return ix.set }

func (ix *Index) project(lon, lat float64) orb.Point {
	x, y := ix.tr.Transform(lon, lat)
	return orb.Point{x, y}
}

// Locate returns the code of the region containing (lon, lat)
func (ix *Index) Locate(lon, lat float64) (string, bool) {
	p := ix.project(lon, lat)
	if !ix.set.bound.Contains(p) {
		return "", false
	}
	for _, r := range ix.set.Regions {
		if r.Bound.Contains(p) && planar.MultiPolygonContains(r.Geometry, p) {
			return r.Code, true
		}
	}
	return "", false
}

type joinPoint struct {
	p orb.Point
	i int
}

func (jp joinPoint) Point() orb.Point { return jp.p }

// Join assigns every point to a region in bulk. The result holds the region
// code for each input point, or "" for points outside every region.
// Points go into a quadtree; each region queries its envelope and confirms
// candidates with an exact polygon test.
func (ix *Index) Join(points []orb.Point) []string {
	out := make([]string, len(points))
	if len(points) == 0 {
		return out
	}

	qt := quadtree.New(ix.set.bound)
	for i, pt := range points {
		p := ix.project(pt[0], pt[1])
		if !ix.set.bound.Contains(p) {
			continue
		}
		// Add only fails for points outside the root bound, excluded above.
		_ = qt.Add(joinPoint{p: p, i: i})
	}

	assigned := make([]bool, len(points))
	var buf []orb.Pointer
	for _, r := range ix.set.Regions {
		buf = qt.InBound(buf[:0], r.Bound)
		for _, c := range buf {
			jp := c.(joinPoint)
			if assigned[jp.i] {
				continue
			}
			if planar.MultiPolygonContains(r.Geometry, jp.p) {
				out[jp.i] = r.Code
				assigned[jp.i] = true
			}
		}
	}
	return out
}
