package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/category"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/loader"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/pipeline"
	"github.com/wegman-software/storesite/internal/table"
)

var (
	createIndexes bool
	dropExisting  bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Publish points, regions and tables to PostgreSQL/PostGIS",
	Long: `Bulk load the CSV outputs of a run into PostgreSQL/PostGIS with COPY.

Tables:
  - feature_points, store_locations  (GEOMETRY(Point, 4326))
  - regions                          (GEOMETRY(MultiPolygon, <region SRID>)), when --regions is set
  - osm_features, master_dataset, final_training_dataset

Missing inputs are skipped. Existing tables are truncated unless
--drop-existing is given.`,
	Run: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().BoolVar(&createIndexes, "create-indexes", true, "Create spatial indexes after loading")
	loadCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop existing tables before loading")
}

func runLoad(cmd *cobra.Command, args []string) {
	log := logger.Get()
	log.Info("Starting PostgreSQL load",
		zap.String("input_dir", cfg.OutputDir),
		zap.String("database", cfg.DBName),
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("user", cfg.DBUser),
		zap.String("schema", cfg.DBSchema),
	)

	if err := loadOutputs(context.Background()); err != nil {
		exitWithError("load failed", err)
	}
}

// tableName turns an output file name into a table name
func tableName(file string) string {
	return strings.ToLower(strings.TrimSuffix(file, filepath.Ext(file)))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadOutputs(ctx context.Context) error {
	log := logger.Get()
	start := time.Now()

	pool, err := loader.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	ldr := loader.New(pool, loader.Options{
		Schema:        cfg.DBSchema,
		DropExisting:  dropExisting,
		CreateIndexes: createIndexes,
	})
	defer ldr.Close()

	if err := ldr.Prepare(ctx); err != nil {
		return err
	}

	for _, f := range []struct {
		file     string
		category string
	}{
		{pipeline.FeaturePointsFile, ""},
		{pipeline.StorePointsFile, category.StoreLabel},
	} {
		path := filepath.Join(cfg.OutputDir, f.file)
		if !exists(path) {
			log.Debug("Skipping points (no source file)", zap.String("file", path))
			continue
		}
		points, err := extract.ReadPointsFile(path, f.category)
		if err != nil {
			return err
		}
		if _, err := ldr.LoadPoints(ctx, tableName(f.file), points); err != nil {
			return err
		}
	}

	if cfg.RegionFile != "" {
		ix, err := pipeline.LoadRegions(ctx, cfg)
		if err != nil {
			return err
		}
		if _, err := ldr.LoadRegions(ctx, "regions", ix.Set()); err != nil {
			return err
		}
	}

	for _, file := range []string{pipeline.FeatureCountsFile, pipeline.MasterFile, pipeline.TrainingFile} {
		path := filepath.Join(cfg.OutputDir, file)
		if !exists(path) {
			log.Debug("Skipping table (no source file)", zap.String("file", path))
			continue
		}
		t, _, err := table.ReadCSVFile(path, cfg.RegionKey)
		if err != nil {
			return err
		}
		if _, err := ldr.LoadTable(ctx, tableName(file), t); err != nil {
			return err
		}
	}

	stats := ldr.Stats()
	elapsed := time.Since(start)
	log.Info("Load complete",
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.Strings("tables", stats.Tables),
		zap.Int64("rows", stats.RowsLoaded),
		zap.Float64("throughput_rows_s", float64(stats.RowsLoaded)/elapsed.Seconds()),
	)
	return nil
}
