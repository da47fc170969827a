package wkb

import (
	"encoding/binary"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

func TestEncodePoint(t *testing.T) {
	e := NewEncoder(32, SRID4326)
	b := e.EncodePoint(orb.Point{138.6, -34.9})
	require.Len(t, b, 25)
	assert.Equal(t, byte(0x01), b[0])
	assert.Equal(t, uint32(wkbPoint|wkbSRIDFlag), binary.LittleEndian.Uint32(b[1:5]))
	assert.Equal(t, uint32(4326), binary.LittleEndian.Uint32(b[5:9]))

	g, err := ewkb.Unmarshal(b)
	require.NoError(t, err)
	p, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 4326, p.SRID())
	assert.Equal(t, []float64{138.6, -34.9}, p.FlatCoords())
}

func TestEncodeMultiPolygon(t *testing.T) {
	shell := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := orb.Ring{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}}
	second := orb.Ring{{20, 20}, {21, 20}, {21, 21}, {20, 20}}
	mp := orb.MultiPolygon{{shell, hole}, {second}}

	e := NewEncoder(0, SRID7844)
	b := e.EncodeMultiPolygon(mp)

	g, err := ewkb.Unmarshal(b)
	require.NoError(t, err)
	out, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 7844, out.SRID())
	require.Equal(t, 2, out.NumPolygons())
	assert.Equal(t, 2, out.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, out.Polygon(1).NumLinearRings())
	assert.Equal(t, 4, out.Polygon(1).LinearRing(0).NumCoords())
}

func TestEncodeReusesBuffer(t *testing.T) {
	e := NewEncoder(64, SRID4326)
	first := append([]byte(nil), e.EncodePoint(orb.Point{1, 2})...)
	second := e.EncodePoint(orb.Point{3, 4})
	assert.Len(t, second, 25)
	assert.NotEqual(t, first, second)

	assert.Nil(t, e.Encode(orb.LineString{{0, 0}, {1, 1}}))
	assert.NotNil(t, e.Encode(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}))
}
