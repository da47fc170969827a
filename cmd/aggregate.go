package cmd

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/pipeline"
)

var pointsFile string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Count feature points per region",
	Long: `Join feature points to region polygons and write osm_features.csv: one row
per region, one column per category, 0 where nothing was found.

Categories come from the same rules extract used, so categories with no
points still get a column. Points outside every region are counted and
logged.`,
	Run: runAggregate,
}

func init() {
	rootCmd.AddCommand(aggregateCmd)

	aggregateCmd.Flags().StringVar(&pointsFile, "points", "", "Feature point file (default <output-dir>/feature_points.csv)")
	addClassifierFlags(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, args []string) {
	log := logger.Get()
	if cfg.RegionFile == "" {
		exitWithError("--regions is required", nil)
	}
	if pointsFile == "" {
		pointsFile = filepath.Join(cfg.OutputDir, pipeline.FeaturePointsFile)
	}

	matchers, err := pipeline.BuildMatchers(cfg)
	if err != nil {
		exitWithError("failed to load category rules", err)
	}
	defer matchers.Close()

	points, err := extract.ReadPointsFile(pointsFile, "")
	if err != nil {
		exitWithError("failed to read points", err)
	}

	ix, err := pipeline.LoadRegions(context.Background(), cfg)
	if err != nil {
		exitWithError("failed to load regions", err)
	}

	res, files, err := pipeline.CountFeatures(cfg, points, ix, matchers.Features.Categories())
	if err != nil {
		exitWithError("aggregation failed", err)
	}
	if res.Warning != "" {
		log.Warn(res.Warning)
	}

	log.Info("Aggregation complete",
		zap.Int("points", len(points)),
		zap.Int("located", res.Located),
		zap.Int("outside", res.Outside),
		zap.Int("uncategorised", res.Uncategorised),
		zap.Int("regions", res.Table.Len()),
		zap.Strings("files", files),
	)
}
