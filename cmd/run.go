package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/pipeline"
)

var publish bool

var runCmd = &cobra.Command{
	Use:   "run [input.osm.pbf]",
	Short: "Run the full pipeline (extract → aggregate → census → merge → engineer → label)",
	Long: `Run every stage in order and write, to the output directory:
  - feature_points.csv, store_locations.csv
  - osm_features.csv          (feature counts per region)
  - <census name>.csv         (one per configured census source)
  - MASTER_dataset.csv        (counts joined with census tables)
  - FINAL_TRAINING_DATASET.csv (engineered features, store_count, is_suitable_location)
  - run_manifest.json         (run id, inputs, outputs, counts, warnings)

Census sources are configured in storesite.yaml. Without them the training
table holds the OSM counts only. With --load the outputs are also
published to PostGIS.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("osm", "", "OSM input file")
	runCmd.Flags().String("node-index", "memory", "Node location index: memory or mmap")
	runCmd.Flags().String("features", "", "YAML feature definitions (built-in set when empty)")
	addClassifierFlags(runCmd)
	runCmd.Flags().BoolVar(&publish, "load", false, "Publish the outputs to PostGIS when the run completes")
	runCmd.Flags().BoolVar(&createIndexes, "create-indexes", true, "Create spatial indexes after loading")
	runCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop existing tables before loading")
}

func runRun(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		cfg.OSMFile = args[0]
	}
	log := logger.Get()

	coord, err := pipeline.NewCoordinator(cfg)
	if err != nil {
		exitWithError("invalid configuration", err)
	}

	log.Info("Starting pipeline",
		zap.String("input", cfg.OSMFile),
		zap.String("regions", cfg.RegionFile),
		zap.Int("census_sources", len(cfg.Census)),
		zap.String("output", cfg.OutputDir),
		zap.String("format", cfg.OutputFormat),
	)

	start := time.Now()
	ctx := context.Background()

	m, err := coord.Run(ctx)
	if err != nil {
		exitWithError("pipeline failed", err)
	}

	for _, w := range m.Warnings {
		log.Warn("Run warning", zap.String("warning", w))
	}

	if publish {
		if err := loadOutputs(ctx); err != nil {
			exitWithError("load failed", err)
		}
	}

	log.Info("Pipeline complete",
		zap.String("run_id", m.RunID),
		zap.Duration("duration", time.Since(start).Round(time.Second)),
		zap.Int("training_rows", m.Rows[pipeline.TrainingFile]),
		zap.Int("positive_rows", m.Positive),
		zap.Int("outputs", len(m.Outputs)),
	)
}
