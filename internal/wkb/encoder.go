// Package wkb encodes orb geometries as PostGIS extended WKB.
package wkb

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"
)

// WKB type codes
const (
	wkbPoint        = 1
	wkbPolygon      = 3
	wkbMultiPolygon = 6

	// EWKB flag marking an embedded SRID
	wkbSRIDFlag = 0x20000000
)

// Common SRIDs
const (
	SRID4326 = 4326
	SRID3857 = 3857
	SRID7844 = 7844 // GDA2020
)

// Encoder writes little-endian EWKB into a reusable buffer. The slice returned
// by an Encode call is only valid until the next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates an encoder for the given SRID
func NewEncoder(initialSize int, srid int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: uint32(srid),
	}
}

// SRID returns the SRID written into every geometry
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// Reset clears the buffer for reuse
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// EncodePoint encodes a point, 25 bytes
func (e *Encoder) EncodePoint(p orb.Point) []byte {
	e.Reset()
	e.ensureCapacity(25)
	e.header(wkbPoint, true)
	e.appendPoint(p)
	return e.buf
}

// EncodePolygon encodes a polygon; rings[0] is the shell
func (e *Encoder) EncodePolygon(p orb.Polygon) []byte {
	e.Reset()
	e.ensureCapacity(9 + polygonSize(p))
	e.header(wkbPolygon, true)
	e.appendRings(p)
	return e.buf
}

// EncodeMultiPolygon encodes a multipolygon. Member polygons carry no SRID,
// as PostGIS expects.
func (e *Encoder) EncodeMultiPolygon(mp orb.MultiPolygon) []byte {
	e.Reset()
	size := 13
	for _, p := range mp {
		size += 5 + polygonSize(p)
	}
	e.ensureCapacity(size)

	e.header(wkbMultiPolygon, true)
	e.appendUint32(uint32(len(mp)))
	for _, p := range mp {
		e.header(wkbPolygon, false)
		e.appendRings(p)
	}
	return e.buf
}

// Encode dispatches on the geometry type. Unsupported types return nil.
func (e *Encoder) Encode(g orb.Geometry) []byte {
	switch g := g.(type) {
	case orb.Point:
		return e.EncodePoint(g)
	case orb.Polygon:
		return e.EncodePolygon(g)
	case orb.MultiPolygon:
		return e.EncodeMultiPolygon(g)
	}
	return nil
}

// polygonSize is the byte size of a polygon body after its header
func polygonSize(p orb.Polygon) int {
	n := 4
	for _, r := range p {
		n += 4 + len(r)*16
	}
	return n
}

func (e *Encoder) header(typ uint32, withSRID bool) {
	e.buf = append(e.buf, 0x01)
	if withSRID {
		e.appendUint32(typ | wkbSRIDFlag)
		e.appendUint32(e.srid)
		return
	}
	e.appendUint32(typ)
}

func (e *Encoder) appendRings(p orb.Polygon) {
	e.appendUint32(uint32(len(p)))
	for _, r := range p {
		e.appendUint32(uint32(len(r)))
		for _, pt := range r {
			e.appendPoint(pt)
		}
	}
}

func (e *Encoder) appendPoint(p orb.Point) {
	e.appendFloat64(p[0])
	e.appendFloat64(p[1])
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

func (e *Encoder) ensureCapacity(n int) {
	if cap(e.buf) < n {
		e.buf = make([]byte, 0, n)
	}
}
