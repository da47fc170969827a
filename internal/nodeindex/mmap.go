package nodeindex

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/rotisserie/eris"
)

const (
	// Each entry: lon (uint32) + lat (uint32)
	entrySize = 8
	// DefaultMaxNodeID covers current planet node ids with headroom
	DefaultMaxNodeID = 16_000_000_000
)

// MmapIndex is a memory-mapped node coordinate index.
// Coordinates of node n live at offset n*8 of a sparse file, so lookups are O(1)
// and disk usage grows only with the pages actually written.
type MmapIndex struct {
	path  string
	file  *os.File
	data  mmap.MMap
	maxID int64
}

// NewMmapIndex creates a sparse index file at path sized for ids below maxID.
// The file is removed on Close.
func NewMmapIndex(path string, maxID int64) (*MmapIndex, error) {
	if maxID <= 0 {
		maxID = DefaultMaxNodeID
	}
	size := maxID * entrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, eris.Wrap(err, "nodeindex: create mmap file")
	}

	// Truncate to full size (sparse file on Linux)
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, eris.Wrap(err, "nodeindex: truncate file")
	}

	data, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, eris.Wrap(err, "nodeindex: mmap file")
	}

	return &MmapIndex{
		path:  path,
		file:  f,
		data:  data,
		maxID: maxID,
	}, nil
}

// Put stores a node's coordinates. Writes for distinct ids touch distinct
// offsets and may run concurrently.
func (m *MmapIndex) Put(id int64, lon, lat float64) {
	if id < 0 || id >= m.maxID || !validLocation(lon, lat) {
		return
	}
	offset := id * entrySize
	x, y := encode(lon, lat)
	binary.LittleEndian.PutUint32(m.data[offset:], x)
	binary.LittleEndian.PutUint32(m.data[offset+4:], y)
}

// Get retrieves a node's coordinates
func (m *MmapIndex) Get(id int64) (lon, lat float64, ok bool) {
	if id < 0 || id >= m.maxID {
		return 0, 0, false
	}
	offset := id * entrySize
	return decode(
		binary.LittleEndian.Uint32(m.data[offset:]),
		binary.LittleEndian.Uint32(m.data[offset+4:]),
	)
}

// Sync flushes written pages to disk
func (m *MmapIndex) Sync() error {
	return eris.Wrap(m.data.Flush(), "nodeindex: flush")
}

// Close unmaps and deletes the index file
func (m *MmapIndex) Close() error {
	if m.data == nil {
		return nil
	}
	err := m.data.Unmap()
	m.data = nil
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	os.Remove(m.path)
	return eris.Wrap(err, "nodeindex: close")
}
