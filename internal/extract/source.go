package extract

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/table"
)

// Pass selects which element kinds a scan needs. Formats that can skip
// decoding (PBF) use it to avoid work; others filter after decoding.
type Pass struct {
	Nodes     bool
	Ways      bool
	Relations bool
}

// Source opens fresh scanners over one OSM file
type Source struct {
	Path    string
	Workers int
}

// NewSource checks that path exists and has a supported extension
func NewSource(path string, workers int) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(table.ErrInputMissing, "%s", path)
		}
		return nil, eris.Wrapf(err, "extract: stat %s", path)
	}
	if format(path) == "" {
		return nil, eris.Errorf("extract: unsupported OSM file %s (want .osm.pbf, .osm or .xml)", path)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Source{Path: path, Workers: workers}, nil
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pbf":
		return "pbf"
	case ".osm", ".xml":
		return "xml"
	}
	return ""
}

// Scan opens the file and returns a scanner positioned at the first element
func (s *Source) Scan(ctx context.Context, pass Pass) (osm.Scanner, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", s.Path)
	}

	var sc osm.Scanner
	switch format(s.Path) {
	case "pbf":
		ps := osmpbf.New(ctx, f, s.Workers)
		ps.SkipNodes = !pass.Nodes
		ps.SkipWays = !pass.Ways
		ps.SkipRelations = !pass.Relations
		sc = ps
	default:
		sc = osmxml.New(ctx, f)
	}
	return &fileScanner{Scanner: sc, f: f}, nil
}

type fileScanner struct {
	osm.Scanner
	f *os.File
}

func (s *fileScanner) Close() error {
	err := s.Scanner.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
