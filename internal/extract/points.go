package extract

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/table"
)

// PointHeader is the column layout of point files
var PointHeader = []string{"category", "osm_type", "osm_id", "longitude", "latitude"}

// WritePoints writes points as CSV
func WritePoints(w io.Writer, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PointHeader); err != nil {
		return eris.Wrap(err, "extract: write point header")
	}
	rec := make([]string, len(PointHeader))
	for _, p := range points {
		rec[0] = p.Category
		rec[1] = string(p.Type)
		rec[2] = strconv.FormatInt(p.ID, 10)
		rec[3] = strconv.FormatFloat(p.Lon, 'f', -1, 64)
		rec[4] = strconv.FormatFloat(p.Lat, 'f', -1, 64)
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "extract: write point")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "extract: flush points")
}

// WritePointsFile writes points to path atomically
func WritePointsFile(path string, points []Point) error {
	return table.WriteFileAtomic(path, func(w io.Writer) error {
		return WritePoints(w, points)
	})
}

// ReadPoints reads a point file. Besides the native layout it accepts store
// location files with columns osm_element_id, longitude, latitude; rows without
// a category column get defaultCategory.
func ReadPoints(r io.Reader, defaultCategory string) ([]Point, error) {
	cr := csv.NewReader(table.NewBOMReader(r))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "extract: read point header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}

	lonIdx, okLon := col["longitude"]
	latIdx, okLat := col["latitude"]
	if !okLon || !okLat {
		return nil, eris.Wrap(table.ErrMissingColumn, "point file needs longitude and latitude columns")
	}
	catIdx, hasCat := col["category"]
	if !hasCat && defaultCategory == "" {
		return nil, eris.Wrap(table.ErrMissingColumn, "point file has no category column")
	}
	typeIdx, hasType := col["osm_type"]
	idIdx, hasID := col["osm_id"]
	if !hasID {
		idIdx, hasID = col["osm_element_id"]
	}

	var points []Point
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "extract: read point line %d", line)
		}
		field := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		p := Point{Category: defaultCategory, Type: osm.TypeNode}
		if hasCat {
			p.Category = field(catIdx)
		}
		if hasType && field(typeIdx) != "" {
			p.Type = osm.Type(field(typeIdx))
		}
		if hasID && field(idIdx) != "" {
			id, err := strconv.ParseFloat(field(idIdx), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "extract: line %d: bad element id", line)
			}
			p.ID = int64(id)
		}
		if p.Lon, err = strconv.ParseFloat(field(lonIdx), 64); err != nil {
			return nil, eris.Wrapf(err, "extract: line %d: bad longitude", line)
		}
		if p.Lat, err = strconv.ParseFloat(field(latIdx), 64); err != nil {
			return nil, eris.Wrapf(err, "extract: line %d: bad latitude", line)
		}
		points = append(points, p)
	}
	return points, nil
}

// ReadPointsFile opens path and reads it with ReadPoints
func ReadPointsFile(path, defaultCategory string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(table.ErrInputMissing, "%s", path)
		}
		return nil, eris.Wrapf(err, "extract: open %s", path)
	}
	defer f.Close()
	return ReadPoints(f, defaultCategory)
}
