package gpkg

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Standard GeoPackage binary header: "GP", version, flags, srs_id, envelope
const headerSize = 8

var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// DecodeGeometry parses a GeoPackage geometry blob into an orb geometry.
// Polygons are promoted to MultiPolygon; empty geometries decode to nil.
func DecodeGeometry(b []byte) (orb.Geometry, int32, error) {
	if len(b) < headerSize || b[0] != 'G' || b[1] != 'P' {
		return nil, 0, eris.New("gpkg: not a GeoPackage geometry blob")
	}
	flags := b[3]
	if flags&0x20 != 0 {
		return nil, 0, eris.New("gpkg: extended geometry types are not supported")
	}

	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}
	srsID := int32(order.Uint32(b[4:8]))

	envSize, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, 0, eris.Errorf("gpkg: invalid envelope indicator %d", (flags>>1)&0x07)
	}
	if flags&0x10 != 0 {
		return nil, srsID, nil
	}
	if len(b) < headerSize+envSize {
		return nil, 0, eris.New("gpkg: truncated geometry header")
	}

	g, err := wkb.Unmarshal(b[headerSize+envSize:])
	if err != nil {
		return nil, 0, eris.Wrap(err, "gpkg: decode WKB")
	}
	og, err := toOrb(g)
	return og, srsID, err
}

// EncodeGeometry builds a little-endian GeoPackage blob with an XY envelope
func EncodeGeometry(g orb.Geometry, srsID int32) ([]byte, error) {
	gg, err := fromOrb(g)
	if err != nil {
		return nil, err
	}
	body, err := wkb.Marshal(gg, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: encode WKB")
	}

	b := make([]byte, headerSize+32, headerSize+32+len(body))
	b[0], b[1], b[2] = 'G', 'P', 0
	b[3] = 0x01 | 1<<1
	binary.LittleEndian.PutUint32(b[4:8], uint32(srsID))
	bound := g.Bound()
	for i, v := range []float64{bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1]} {
		binary.LittleEndian.PutUint64(b[headerSize+i*8:], math.Float64bits(v))
	}
	return append(b, body...), nil
}

func toOrb(g geom.T) (orb.Geometry, error) {
	switch t := g.(type) {
	case *geom.Point:
		c := t.FlatCoords()
		if len(c) < 2 || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			return nil, nil
		}
		return orb.Point{c[0], c[1]}, nil
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return nil, nil
		}
		return orb.MultiPolygon{polygon(t)}, nil
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			if p := t.Polygon(i); p.NumLinearRings() > 0 {
				mp = append(mp, polygon(p))
			}
		}
		if len(mp) == 0 {
			return nil, nil
		}
		return mp, nil
	default:
		return nil, eris.Errorf("gpkg: unsupported geometry type %T", g)
	}
}

func polygon(p *geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, len(coords))
		for j, c := range coords {
			ring[j] = orb.Point{c[0], c[1]}
		}
		out = append(out, ring)
	}
	return out
}

func fromOrb(g orb.Geometry) (geom.T, error) {
	switch t := g.(type) {
	case orb.Point:
		return geom.NewPointFlat(geom.XY, []float64{t[0], t[1]}), nil
	case orb.Polygon:
		return geom.NewPolygon(geom.XY).SetCoords(polygonCoords(t))
	case orb.MultiPolygon:
		coords := make([][][]geom.Coord, len(t))
		for i, p := range t {
			coords[i] = polygonCoords(p)
		}
		return geom.NewMultiPolygon(geom.XY).SetCoords(coords)
	default:
		return nil, eris.Errorf("gpkg: unsupported geometry type %T", g)
	}
}

func polygonCoords(p orb.Polygon) [][]geom.Coord {
	out := make([][]geom.Coord, len(p))
	for i, r := range p {
		out[i] = make([]geom.Coord, len(r))
		for j, pt := range r {
			out[i][j] = geom.Coord{pt[0], pt[1]}
		}
	}
	return out
}
