// Package nodeindex stores node coordinates by node id for way and relation
// resolution.
package nodeindex

import (
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Index maps node ids to coordinates
type Index interface {
	// Put stores a node location. Ids outside the index range are ignored.
	Put(id int64, lon, lat float64)
	// Get returns the location of a stored node
	Get(id int64) (lon, lat float64, ok bool)
	Close() error
}

// Coordinates are stored as unsigned fixed-point offsets from (-180, -90), plus one,
// so the zero entry of a sparse file always means "not written".
const scale = 1e7

func encode(lon, lat float64) (uint32, uint32) {
	return uint32(math.Round((lon+180)*scale)) + 1, uint32(math.Round((lat+90)*scale)) + 1
}

func decode(x, y uint32) (lon, lat float64, ok bool) {
	if x == 0 || y == 0 {
		return 0, 0, false
	}
	return float64(x-1)/scale - 180, float64(y-1)/scale - 90, true
}

func validLocation(lon, lat float64) bool {
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// MemoryIndex keeps locations in a map. Suitable for city and state extracts.
type MemoryIndex struct {
	nodes map[int64]uint64
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{nodes: make(map[int64]uint64)}
}

// Put stores a node location
func (m *MemoryIndex) Put(id int64, lon, lat float64) {
	if !validLocation(lon, lat) {
		return
	}
	x, y := encode(lon, lat)
	m.nodes[id] = uint64(x)<<32 | uint64(y)
}

// Get retrieves a node location
func (m *MemoryIndex) Get(id int64) (lon, lat float64, ok bool) {
	v, ok := m.nodes[id]
	if !ok {
		return 0, 0, false
	}
	return decode(uint32(v>>32), uint32(v))
}

// Len returns the number of stored nodes
func (m *MemoryIndex) Len() int { return len(m.nodes) }

// Close releases the map
func (m *MemoryIndex) Close() error {
	m.nodes = nil
	return nil
}

// Index backends selectable from configuration
const (
	ModeMemory = "memory"
	ModeMmap   = "mmap"
)

// New creates an index of the given mode. The mmap backend places its sparse
// file in dir.
func New(mode, dir string) (Index, error) {
	switch mode {
	case ModeMemory, "":
		return NewMemoryIndex(), nil
	case ModeMmap:
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, eris.Wrapf(err, "nodeindex: create directory %s", dir)
		}
		return NewMmapIndex(filepath.Join(dir, "node_index.bin"), DefaultMaxNodeID)
	default:
		return nil, eris.Errorf("nodeindex: unknown mode %q (want %s or %s)", mode, ModeMemory, ModeMmap)
	}
}
