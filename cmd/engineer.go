package cmd

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/engineer"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/pipeline"
	"github.com/wegman-software/storesite/internal/table"
)

var (
	engineerInput  string
	engineerOutput string
)

var engineerCmd = &cobra.Command{
	Use:   "engineer",
	Short: "Derive ratio and density features from the merged table",
	Long: `Compute the engineered features from MASTER_dataset.csv. Each feature is a
sum of columns, optionally divided by a base such as population or area;
a zero base is replaced by a small constant and non-finite results become
0. Missing columns abort for required features and drop optional ones.

The built-in set reads the ABS G01, G33 and G62 census packs; --features
selects a YAML definition instead.`,
	Run: runEngineer,
}

func init() {
	rootCmd.AddCommand(engineerCmd)

	engineerCmd.Flags().StringVar(&engineerInput, "input", "", "Merged table (default <output-dir>/MASTER_dataset.csv)")
	engineerCmd.Flags().StringVar(&engineerOutput, "output", pipeline.EngineeredFile, "Output file, relative to the output directory")
	engineerCmd.Flags().String("features", "", "YAML feature definitions (built-in set when empty)")
}

func runEngineer(cmd *cobra.Command, args []string) {
	log := logger.Get()
	if engineerInput == "" {
		engineerInput = filepath.Join(cfg.OutputDir, pipeline.MasterFile)
	}

	spec, err := pipeline.FeatureSpec(cfg)
	if err != nil {
		exitWithError("failed to load feature definitions", err)
	}

	master, _, err := table.ReadCSVFile(engineerInput, cfg.RegionKey)
	if err != nil {
		exitWithError("failed to read merged table", err)
	}

	res, err := engineer.Engineer(master, spec)
	if err != nil {
		exitWithError("feature engineering failed", err)
	}

	files, err := pipeline.WriteTable(cfg, engineerOutput, res.Table)
	if err != nil {
		exitWithError("failed to write features", err)
	}
	log.Info("Feature engineering complete",
		zap.Int("rows", res.Table.Len()),
		zap.Int("features", len(res.Table.Columns())),
		zap.Strings("dropped", res.Dropped),
		zap.Strings("files", files),
	)
}
