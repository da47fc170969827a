package extract

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/wegman-software/storesite/internal/nodeindex"
)

// SkipReason explains why a matched element produced no point
type SkipReason string

const (
	SkipMissingNode     SkipReason = "missing_node"
	SkipMissingMember   SkipReason = "missing_member"
	SkipDegenerate      SkipReason = "degenerate_geometry"
	SkipInvalidLocation SkipReason = "invalid_location"
)

// Resolution is the per-element outcome: a representative point, or a reason
// the element was skipped.
type Resolution struct {
	Point orb.Point
	Skip  SkipReason
}

// OK reports whether a point was resolved
func (r Resolution) OK() bool { return r.Skip == "" }

func skipped(reason SkipReason) Resolution { return Resolution{Skip: reason} }

func validPoint(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// ResolveNode returns the node's own location
func ResolveNode(n *osm.Node) Resolution {
	if !validPoint(n.Lon, n.Lat) {
		return skipped(SkipInvalidLocation)
	}
	return Resolution{Point: orb.Point{n.Lon, n.Lat}}
}

// IsArea reports whether a way describes an area: closed ring of at least four
// references (first == last) not tagged area=no.
func IsArea(w *osm.Way) bool {
	if len(w.Nodes) < 4 || w.Nodes[0].ID != w.Nodes[len(w.Nodes)-1].ID {
		return false
	}
	return w.Tags.Find("area") != "no"
}

// IsAreaRelation reports whether a relation is a multipolygon or boundary
func IsAreaRelation(r *osm.Relation) bool {
	switch r.Tags.Find("type") {
	case "multipolygon", "boundary":
		return true
	}
	return false
}

// wayBound computes the envelope of a way's nodes from the index
func wayBound(w *osm.Way, idx nodeindex.Index) (orb.Bound, bool) {
	if len(w.Nodes) == 0 {
		return orb.Bound{}, false
	}
	var b orb.Bound
	for i, wn := range w.Nodes {
		lon, lat, ok := idx.Get(int64(wn.ID))
		if !ok {
			return orb.Bound{}, false
		}
		p := orb.Point{lon, lat}
		if i == 0 {
			b = p.Bound()
			continue
		}
		b = b.Extend(p)
	}
	return b, true
}

// envelopeCenter returns the centre of an envelope that has a non-zero extent
func envelopeCenter(b orb.Bound) Resolution {
	if b.Min == b.Max {
		return skipped(SkipDegenerate)
	}
	c := b.Center()
	if !validPoint(c[0], c[1]) {
		return skipped(SkipInvalidLocation)
	}
	return Resolution{Point: c}
}

// ResolveWay returns the envelope centre of an area way
func ResolveWay(w *osm.Way, idx nodeindex.Index) Resolution {
	b, ok := wayBound(w, idx)
	if !ok {
		return skipped(SkipMissingNode)
	}
	return envelopeCenter(b)
}

// ResolveRelation returns the centre of the union of member way envelopes.
// bounds holds the envelopes of member ways seen during the scan.
func ResolveRelation(members []int64, bounds map[int64]orb.Bound) Resolution {
	if len(members) == 0 {
		return skipped(SkipDegenerate)
	}
	var union orb.Bound
	for i, id := range members {
		b, ok := bounds[id]
		if !ok {
			return skipped(SkipMissingMember)
		}
		if i == 0 {
			union = b
			continue
		}
		union = union.Union(b)
	}
	return envelopeCenter(union)
}
