package cmd

import (
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wegman-software/storesite/internal/config"
	"github.com/wegman-software/storesite/internal/logger"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "storesite",
	Short: "Build a store-location training dataset from OpenStreetMap and census data",
	Long: `storesite turns an OpenStreetMap extract, statistical area boundaries and
census tables into a per-region training dataset for convenience store
site selection.

Stages:
  - extract:   classify OSM elements into feature and store points
  - aggregate: count feature points per region
  - census:    select census columns per region
  - merge:     join region tables on their code
  - engineer:  derive ratio and density features
  - label:     attach the store count and suitability label
  - run:       all of the above in one pass
  - load:      publish points, regions and tables to PostGIS

Settings come from flags, STORESITE_* environment variables and an optional
storesite.yaml, in that order of precedence.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loaded, err := loadConfig(cmd.Flags())
		if err != nil {
			exitWithError("invalid configuration", err)
		}
		cfg = loaded

		logger.Init(logger.Options{Debug: cfg.Verbose, LogFile: cfg.LogFile})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	d := config.DefaultConfig()

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration (default ./storesite.yaml if present)")

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringP("output-dir", "o", d.OutputDir, "Directory for output tables and point files")
	rootCmd.PersistentFlags().IntP("workers", "j", d.Workers, "Number of PBF decoder workers")
	rootCmd.PersistentFlags().String("format", d.OutputFormat, "Output format: csv, parquet or both")
	rootCmd.PersistentFlags().Int("batch-size", d.BatchSize, "Rows per Parquet row group")

	// Logging and metrics flags
	rootCmd.PersistentFlags().String("log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().Duration("metrics-interval", d.MetricsInterval, "Interval for system metrics logging (0 disables)")
	rootCmd.PersistentFlags().Duration("progress-interval", d.ProgressInterval, "Interval for progress logging")

	// Region flags, shared by every stage that joins points to regions
	rootCmd.PersistentFlags().String("regions", "", "Region boundaries (.gpkg, .shp or .geojson)")
	rootCmd.PersistentFlags().String("region-layer", "", "GeoPackage layer holding the regions")
	rootCmd.PersistentFlags().String("region-key", d.RegionKey, "Region code attribute")
	rootCmd.PersistentFlags().String("region-crs", "", "Override the region CRS (e.g. EPSG:7844)")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().String("db-host", d.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().Int("db-port", d.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringP("db-name", "d", d.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringP("db-user", "U", d.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringP("db-password", "W", "", "PostgreSQL password")
	rootCmd.PersistentFlags().String("db-schema", d.DBSchema, "PostgreSQL schema")
}

// loadConfig merges file, environment and flags and validates the result
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	c, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// addClassifierFlags registers the flags that choose the tag matchers
func addClassifierFlags(cmd *cobra.Command) {
	cmd.Flags().String("categories", "", "YAML feature category rules (built-in rules when empty)")
	cmd.Flags().String("store-categories", "", "YAML store category rules (built-in rules when empty)")
	cmd.Flags().String("classifier-script", "", "Lua feature classifier, instead of --categories")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
