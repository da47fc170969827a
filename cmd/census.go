package cmd

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/storesite/internal/census"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/pipeline"
)

var adhocSource census.Source

var censusCmd = &cobra.Command{
	Use:   "census",
	Short: "Select census columns per region",
	Long: `Read census GeoPackage layers or CSV tables and write one keyed table per
source. Sources come from the census list in storesite.yaml, or from
--input for a one-off extraction.

Requested columns missing from a source are dropped with a warning; a
missing --required column, or no column at all, aborts.`,
	Run: runCensus,
}

func init() {
	rootCmd.AddCommand(censusCmd)

	censusCmd.Flags().StringVar(&adhocSource.Input, "input", "", "Census GeoPackage or CSV")
	censusCmd.Flags().StringVar(&adhocSource.Name, "name", "", "Source name (default: input file stem)")
	censusCmd.Flags().StringVar(&adhocSource.Layer, "layer", "", "GeoPackage layer (default: the only one)")
	censusCmd.Flags().StringVar(&adhocSource.Key, "key", "", "Region code column (default --region-key)")
	censusCmd.Flags().StringSliceVar(&adhocSource.Columns, "columns", nil, "Columns to keep (default: every numeric column)")
	censusCmd.Flags().StringSliceVar(&adhocSource.Required, "required", nil, "Columns whose absence aborts")
	censusCmd.Flags().StringVar(&adhocSource.Output, "output", "", "Output file (default <output-dir>/<name>.csv)")
}

func runCensus(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if adhocSource.Input != "" {
		if adhocSource.Name == "" {
			base := filepath.Base(adhocSource.Input)
			adhocSource.Name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		cfg.Census = append(cfg.Census, adhocSource)
	}
	if len(cfg.Census) == 0 {
		exitWithError("no census sources: set --input or a census list in the configuration", nil)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	tables, files, err := pipeline.Census(context.Background(), cfg)
	if err != nil {
		exitWithError("census extraction failed", err)
	}

	rows := 0
	for _, t := range tables {
		rows += t.Len()
	}
	log.Info("Census extraction complete",
		zap.Int("sources", len(tables)),
		zap.Int("rows", rows),
		zap.Strings("files", files),
	)
}
