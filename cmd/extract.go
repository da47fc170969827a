package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/pipeline"
	"github.com/wegman-software/storesite/internal/table"
)

var extractCmd = &cobra.Command{
	Use:   "extract [input.osm.pbf]",
	Short: "Extract categorised feature and store points from an OSM file",
	Long: `Scan an OSM file (.osm.pbf or .osm XML) twice and write:
  - feature_points.csv  (category, osm_type, osm_id, longitude, latitude)
  - store_locations.csv (same layout, category "store")

Nodes are placed at their location; closed area ways and multipolygon
relations at the centre of their bounding box. Each element is emitted at
most once per output, under its highest-priority category.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runExtract,
}

var scanTagsCmd = &cobra.Command{
	Use:   "scan-tags [input.osm.pbf]",
	Short: "List the distinct values of selected tag keys",
	Long: `Count every value of the given keys (default amenity and shop) across all
elements and write the inventory to tag_inventory.txt in the output
directory. Useful for writing category rules.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runScanTags,
}

var scanKeys []string

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(scanTagsCmd)

	extractCmd.Flags().String("osm", "", "OSM input file")
	extractCmd.Flags().String("node-index", "memory", "Node location index: memory or mmap")
	addClassifierFlags(extractCmd)

	scanTagsCmd.Flags().String("osm", "", "OSM input file")
	scanTagsCmd.Flags().StringSliceVar(&scanKeys, "keys", extract.DefaultScanKeys, "Tag keys to inventory")
}

func runExtract(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		cfg.OSMFile = args[0]
	}
	log := logger.Get()

	if err := cfg.ValidateExtract(); err != nil {
		exitWithError("invalid configuration", err)
	}

	log.Info("Starting OSM extraction",
		zap.String("input", cfg.OSMFile),
		zap.String("output", cfg.OutputDir),
		zap.String("node_index", cfg.NodeIndex),
		zap.Int("workers", cfg.Workers),
	)

	start := time.Now()

	matchers, err := pipeline.BuildMatchers(cfg)
	if err != nil {
		exitWithError("failed to load category rules", err)
	}
	defer matchers.Close()

	out, err := pipeline.Extract(context.Background(), cfg, matchers)
	if err != nil {
		exitWithError("extraction failed", err)
	}

	elapsed := time.Since(start)

	log.Info("Extraction complete",
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.Int64("nodes", out.Scan.Nodes),
		zap.Int64("ways", out.Scan.Ways),
		zap.Int64("relations", out.Scan.Relations),
		zap.Int64("feature_points", out.Features.Stats.Emitted),
		zap.Int64("store_points", out.Stores.Stats.Emitted),
		zap.Strings("files", out.Files),
	)
}

func runScanTags(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		cfg.OSMFile = args[0]
	}
	log := logger.Get()

	if err := cfg.ValidateExtract(); err != nil {
		exitWithError("invalid configuration", err)
	}

	src, err := extract.NewSource(cfg.OSMFile, cfg.Workers)
	if err != nil {
		exitWithError("failed to open OSM file", err)
	}

	start := time.Now()
	inv, err := extract.ScanTags(context.Background(), src, scanKeys)
	if err != nil {
		exitWithError("tag scan failed", err)
	}

	path := filepath.Join(cfg.OutputDir, pipeline.TagReportFile)
	if err := table.WriteFileAtomic(path, inv.WriteReport); err != nil {
		exitWithError("failed to write tag inventory", err)
	}

	fields := []zap.Field{
		zap.Duration("duration", time.Since(start).Round(time.Second)),
		zap.Int64("elements", inv.Elements),
		zap.String("report", path),
	}
	for _, k := range inv.Keys {
		fields = append(fields, zap.Int(k+"_values", len(inv.Values[k])))
	}
	log.Info("Tag scan complete", fields...)

	if cfg.Verbose {
		_ = inv.WriteReport(os.Stdout)
	}
}
