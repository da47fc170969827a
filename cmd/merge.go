package cmd

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/merge"
	"github.com/wegman-software/storesite/internal/pipeline"
	"github.com/wegman-software/storesite/internal/table"
)

var mergeOutput string

var mergeCmd = &cobra.Command{
	Use:   "merge <table.csv> <table.csv>...",
	Short: "Inner-join region tables on their code",
	Long: `Join two or more region tables on the region code and write
MASTER_dataset.csv. The first table sets the row order. Codes missing
from any table are dropped and counted; a column present in two tables
aborts, as does an empty result.`,
	Args: cobra.MinimumNArgs(2),
	Run:  runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeOutput, "output", pipeline.MasterFile, "Output file, relative to the output directory")
}

func runMerge(cmd *cobra.Command, args []string) {
	log := logger.Get()

	tables := make([]*table.Table, 0, len(args))
	for _, path := range args {
		t, _, err := table.ReadCSVFile(path, cfg.RegionKey)
		if err != nil {
			exitWithError("failed to read table", err)
		}
		tables = append(tables, t)
	}

	out, err := merge.Merge(tables...)
	if err != nil {
		exitWithError("merge failed", err)
	}

	files, err := pipeline.WriteTable(cfg, mergeOutput, out)
	if err != nil {
		exitWithError("failed to write merged table", err)
	}
	log.Info("Merge complete", zap.Int("rows", out.Len()), zap.Strings("files", files))
}
