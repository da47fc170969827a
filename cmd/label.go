package cmd

import (
	"context"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/category"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/label"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/pipeline"
	"github.com/wegman-software/storesite/internal/table"
)

var (
	labelFeatures string
	labelStores   string
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Attach store counts and the suitability label to the feature table",
	Long: `Count store locations per region and left-join the counts onto the feature
table, writing FINAL_TRAINING_DATASET.csv with two extra columns:
store_count (0 where no store was found) and is_suitable_location
(1 when store_count > 0).

Store files may use the extract layout or osm_element_id, longitude,
latitude columns.`,
	Run: runLabel,
}

func init() {
	rootCmd.AddCommand(labelCmd)

	labelCmd.Flags().StringVar(&labelFeatures, "features-table", "", "Feature table (default <output-dir>/engineered_features.csv)")
	labelCmd.Flags().StringVar(&labelStores, "stores", "", "Store locations (default <output-dir>/store_locations.csv)")
	labelCmd.Flags().String("store-categories", "", "YAML store category rules (built-in rules when empty)")
}

func runLabel(cmd *cobra.Command, args []string) {
	log := logger.Get()
	if cfg.RegionFile == "" {
		exitWithError("--regions is required", nil)
	}
	if labelFeatures == "" {
		labelFeatures = filepath.Join(cfg.OutputDir, pipeline.EngineeredFile)
	}
	if labelStores == "" {
		labelStores = filepath.Join(cfg.OutputDir, pipeline.StorePointsFile)
	}

	features, _, err := table.ReadCSVFile(labelFeatures, cfg.RegionKey)
	if err != nil {
		exitWithError("failed to read feature table", err)
	}
	matchers, err := pipeline.BuildMatchers(cfg)
	if err != nil {
		exitWithError("failed to load category rules", err)
	}
	defer matchers.Close()

	stores, err := extract.ReadPointsFile(labelStores, category.StoreLabel)
	if err != nil {
		exitWithError("failed to read store locations", err)
	}
	ix, err := pipeline.LoadRegions(context.Background(), cfg)
	if err != nil {
		exitWithError("failed to load regions", err)
	}

	res, err := label.Assign(features, ix, stores, matchers.Stores.Categories())
	if err != nil {
		exitWithError("labelling failed", err)
	}
	files, err := pipeline.WriteTable(cfg, pipeline.TrainingFile, res.Table)
	if err != nil {
		exitWithError("failed to write training table", err)
	}

	fields := []zap.Field{
		zap.Int("rows", res.Table.Len()),
		zap.Int("positive", res.Positive),
		zap.Int("stores_located", res.Located),
		zap.Int("stores_unlocated", res.Unlocated),
		zap.Int("ignored_points", res.Ignored),
		zap.Int("unknown_regions", res.UnknownRegions),
	}
	for _, n := range res.Counts() {
		fields = append(fields, zap.Int("rows_with_"+strconv.Itoa(n)+"_stores", res.Distribution[n]))
	}
	fields = append(fields, zap.Strings("files", files))
	log.Info("Labelling complete", fields...)
}
