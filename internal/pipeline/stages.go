package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/aggregate"
	"github.com/wegman-software/storesite/internal/category"
	"github.com/wegman-software/storesite/internal/census"
	"github.com/wegman-software/storesite/internal/config"
	"github.com/wegman-software/storesite/internal/engineer"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/nodeindex"
	"github.com/wegman-software/storesite/internal/parquet"
	"github.com/wegman-software/storesite/internal/proj"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
)

// Matchers holds the feature and store classifiers built from configuration
type Matchers struct {
	Features category.Matcher
	Stores   category.Matcher
	script   *category.ScriptMatcher
}

// BuildMatchers loads the configured rules. A classifier script replaces the
// feature rules; built-in rules are used when no file is given.
func BuildMatchers(cfg *config.Config) (*Matchers, error) {
	m := &Matchers{}

	switch {
	case cfg.ClassifierScript != "":
		s, err := category.LoadScript(cfg.ClassifierScript)
		if err != nil {
			return nil, err
		}
		m.script = s
		m.Features = s
	case cfg.CategoriesFile != "":
		r, err := category.LoadRules(cfg.CategoriesFile)
		if err != nil {
			return nil, err
		}
		m.Features = r
	default:
		m.Features = category.DefaultFeatureRules()
	}

	if cfg.StoreCategoriesFile != "" {
		r, err := category.LoadRules(cfg.StoreCategoriesFile)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Stores = r
	} else {
		m.Stores = category.DefaultStoreRules()
	}
	return m, nil
}

// ScriptFailures reports classifier script errors, zero for rule matchers
func (m *Matchers) ScriptFailures() (int64, error) {
	if m.script == nil {
		return 0, nil
	}
	return m.script.Err()
}

// Close releases the script state, if any
func (m *Matchers) Close() {
	if m.script != nil {
		m.script.Close()
	}
}

// ExtractOutput is the result of the extraction stage
type ExtractOutput struct {
	Features   *extract.Result
	Stores     *extract.Result
	Categories []string
	Scan       *extract.ScanStats
	Files      []string
}

// Extract runs the two-pass extraction for features and stores and writes
// both point files
func Extract(ctx context.Context, cfg *config.Config, m *Matchers) (*ExtractOutput, error) {
	src, err := extract.NewSource(cfg.OSMFile, cfg.Workers)
	if err != nil {
		return nil, err
	}

	idx, err := nodeindex.New(cfg.NodeIndex, cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	ex, err := extract.New(src, idx,
		extract.Target{Name: TargetFeatures, Matcher: m.Features},
		extract.Target{Name: TargetStores, Matcher: m.Stores},
	)
	if err != nil {
		return nil, err
	}

	results, scan, err := ex.Run(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "extraction failed")
	}

	if n, serr := m.ScriptFailures(); n > 0 {
		logger.Stage("extract").Warn("Classifier script failed on some elements",
			zap.Int64("failures", n), zap.Error(serr))
	}

	out := &ExtractOutput{
		Features:   results[0],
		Stores:     results[1],
		Categories: m.Features.Categories(),
		Scan:       scan,
	}

	files, err := WritePoints(cfg, FeaturePointsFile, out.Features.Points)
	if err != nil {
		return nil, err
	}
	out.Files = append(out.Files, files...)

	files, err = WritePoints(cfg, StorePointsFile, out.Stores.Points)
	if err != nil {
		return nil, err
	}
	out.Files = append(out.Files, files...)
	return out, nil
}

// LoadRegions reads the region file and builds its spatial index
func LoadRegions(ctx context.Context, cfg *config.Config) (*region.Index, error) {
	opts := region.Options{Layer: cfg.RegionLayer, Key: cfg.RegionKey}
	if cfg.RegionCRS != "" {
		crs, err := proj.ParseCRS(cfg.RegionCRS)
		if err != nil {
			return nil, err
		}
		opts.CRS = crs
	}

	set, err := region.Load(ctx, cfg.RegionFile, opts)
	if err != nil {
		return nil, err
	}
	return region.NewIndex(set)
}

// CountFeatures aggregates feature points per region and writes the count table
func CountFeatures(cfg *config.Config, points []extract.Point, ix *region.Index, categories []string) (*aggregate.Result, []string, error) {
	res, err := aggregate.Aggregate(points, ix, categories)
	if err != nil {
		return nil, nil, err
	}
	files, err := WriteTable(cfg, FeatureCountsFile, res.Table)
	if err != nil {
		return nil, nil, err
	}
	return res, files, nil
}

// Census extracts every configured census source. Each table is written to
// its Output path, or <name>.csv in the output directory.
func Census(ctx context.Context, cfg *config.Config) ([]*table.Table, []string, error) {
	var tables []*table.Table
	var written []string
	for _, src := range cfg.Census {
		if src.Key == "" {
			src.Key = cfg.RegionKey
		}
		res, err := census.Extract(ctx, src)
		if err != nil {
			return nil, nil, err
		}
		tables = append(tables, res.Table)

		out := src.Output
		if out == "" {
			out = src.Name + ".csv"
		}
		files, err := WriteTable(cfg, out, res.Table)
		if err != nil {
			return nil, nil, err
		}
		written = append(written, files...)
	}
	return tables, written, nil
}

// FeatureSpec returns the configured feature definitions, or the built-in ones
func FeatureSpec(cfg *config.Config) (*engineer.Spec, error) {
	if cfg.FeaturesFile != "" {
		return engineer.LoadSpec(cfg.FeaturesFile)
	}
	return engineer.DefaultSpec(), nil
}

// outputPath resolves name against the output directory unless it is absolute
func outputPath(cfg *config.Config, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.OutputDir, name)
}

func parquetName(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".parquet"
}

// WriteTable writes t in the configured formats and returns the paths written
func WriteTable(cfg *config.Config, name string, t *table.Table) ([]string, error) {
	path := outputPath(cfg, name)
	var files []string
	if cfg.WantCSV() {
		if err := t.WriteCSVFile(path); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	if cfg.WantParquet() {
		pq := parquetName(path)
		if err := parquet.WriteTableFile(pq, t, cfg.BatchSize); err != nil {
			return nil, err
		}
		files = append(files, pq)
	}
	logger.Get().Info("Table written",
		zap.Strings("files", files),
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(t.Columns())))
	return files, nil
}

// WritePoints writes points in the configured formats and returns the paths written
func WritePoints(cfg *config.Config, name string, points []extract.Point) ([]string, error) {
	path := outputPath(cfg, name)
	var files []string
	if cfg.WantCSV() {
		if err := extract.WritePointsFile(path, points); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	if cfg.WantParquet() {
		pq := parquetName(path)
		if err := parquet.WritePointsFile(pq, points, cfg.BatchSize); err != nil {
			return nil, err
		}
		files = append(files, pq)
	}
	logger.Get().Info("Points written", zap.Strings("files", files), zap.Int("points", len(points)))
	return files, nil
}

// ensureOutputDir creates the output directory
func ensureOutputDir(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return eris.Wrapf(err, "create output directory %s", cfg.OutputDir)
	}
	return nil
}
