package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wegman-software/storesite/internal/census"
	"github.com/wegman-software/storesite/internal/nodeindex"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
)

// Output formats for point and table exports
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatBoth    = "both"
)

// Config holds the global configuration for a run
type Config struct {
	// Inputs
	OSMFile     string `mapstructure:"osm_file" yaml:"osm_file"`
	RegionFile  string `mapstructure:"region_file" yaml:"region_file"`
	RegionLayer string `mapstructure:"region_layer" yaml:"region_layer"`
	RegionKey   string `mapstructure:"region_key" yaml:"region_key"`
	RegionCRS   string `mapstructure:"region_crs" yaml:"region_crs"` // overrides the CRS the region file declares

	// Classification
	CategoriesFile      string `mapstructure:"categories_file" yaml:"categories_file"`             // YAML feature rules; built-in rules when empty
	StoreCategoriesFile string `mapstructure:"store_categories_file" yaml:"store_categories_file"` // YAML store rules; built-in rules when empty
	ClassifierScript    string `mapstructure:"classifier_script" yaml:"classifier_script"`         // Lua feature classifier, replaces CategoriesFile
	FeaturesFile        string `mapstructure:"features_file" yaml:"features_file"`                 // engineered feature definitions

	Census []census.Source `mapstructure:"census" yaml:"census"`

	// Output settings
	OutputDir    string `mapstructure:"output_dir" yaml:"output_dir"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`

	// Database settings
	DBHost     string `mapstructure:"db_host" yaml:"db_host"`
	DBPort     int    `mapstructure:"db_port" yaml:"db_port"`
	DBName     string `mapstructure:"db_name" yaml:"db_name"`
	DBUser     string `mapstructure:"db_user" yaml:"db_user"`
	DBPassword string `mapstructure:"db_password" yaml:"db_password"`
	DBSchema   string `mapstructure:"db_schema" yaml:"db_schema"`

	// Processing settings
	NodeIndex string `mapstructure:"node_index" yaml:"node_index"`
	Workers   int    `mapstructure:"workers" yaml:"workers"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`

	// Logging and metrics
	Verbose          bool          `mapstructure:"verbose" yaml:"verbose"`
	LogFile          string        `mapstructure:"log_file" yaml:"log_file"` // empty = no file logging
	MetricsInterval  time.Duration `mapstructure:"metrics_interval" yaml:"metrics_interval"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RegionKey:        region.DefaultKey,
		OutputDir:        "./storesite_data",
		OutputFormat:     FormatCSV,
		DBHost:           "localhost",
		DBPort:           5432,
		DBName:           "storesite",
		DBUser:           "postgres",
		DBSchema:         "public",
		NodeIndex:        nodeindex.ModeMemory,
		Workers:          runtime.NumCPU(),
		BatchSize:        100000,
		MetricsInterval:  30 * time.Second,
		ProgressInterval: 10 * time.Second,
	}
}

// flagKeys maps config keys to the command line flags that may set them
var flagKeys = map[string]string{
	"osm_file":              "osm",
	"region_file":           "regions",
	"region_layer":          "region-layer",
	"region_key":            "region-key",
	"region_crs":            "region-crs",
	"categories_file":       "categories",
	"store_categories_file": "store-categories",
	"classifier_script":     "classifier-script",
	"features_file":         "features",
	"output_dir":            "output-dir",
	"output_format":         "format",
	"db_host":               "db-host",
	"db_port":               "db-port",
	"db_name":               "db-name",
	"db_user":               "db-user",
	"db_password":           "db-password",
	"db_schema":             "db-schema",
	"node_index":            "node-index",
	"workers":               "workers",
	"batch_size":            "batch-size",
	"verbose":               "verbose",
	"log_file":              "log-file",
	"metrics_interval":      "metrics-interval",
	"progress_interval":     "progress-interval",
}

// Load builds the configuration from defaults, an optional YAML file,
// STORESITE_* environment variables and flags, in increasing precedence.
// An empty path looks for storesite.yaml in the working directory.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("storesite")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STORESITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("osm_file", d.OSMFile)
	v.SetDefault("region_file", d.RegionFile)
	v.SetDefault("region_layer", d.RegionLayer)
	v.SetDefault("region_key", d.RegionKey)
	v.SetDefault("region_crs", d.RegionCRS)
	v.SetDefault("categories_file", d.CategoriesFile)
	v.SetDefault("store_categories_file", d.StoreCategoriesFile)
	v.SetDefault("classifier_script", d.ClassifierScript)
	v.SetDefault("features_file", d.FeaturesFile)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("db_host", d.DBHost)
	v.SetDefault("db_port", d.DBPort)
	v.SetDefault("db_name", d.DBName)
	v.SetDefault("db_user", d.DBUser)
	v.SetDefault("db_password", d.DBPassword)
	v.SetDefault("db_schema", d.DBSchema)
	v.SetDefault("node_index", d.NodeIndex)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("metrics_interval", d.MetricsInterval)
	v.SetDefault("progress_interval", d.ProgressInterval)

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, eris.Wrapf(err, "config: bind flag --%s", name)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist; the implicit one is optional.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// WantCSV reports whether tables and points are written as CSV
func (c *Config) WantCSV() bool {
	return c.OutputFormat == FormatCSV || c.OutputFormat == FormatBoth
}

// WantParquet reports whether tables and points are written as Parquet
func (c *Config) WantParquet() bool {
	return c.OutputFormat == FormatParquet || c.OutputFormat == FormatBoth
}

// Validate checks the settings every command shares
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return eris.New("workers must be at least 1")
	}
	if c.BatchSize < 1000 {
		return eris.New("batch size must be at least 1000")
	}
	switch c.OutputFormat {
	case FormatCSV, FormatParquet, FormatBoth:
	default:
		return eris.Errorf("output format must be csv, parquet or both, got %q", c.OutputFormat)
	}
	switch c.NodeIndex {
	case nodeindex.ModeMemory, nodeindex.ModeMmap:
	default:
		return eris.Errorf("node index must be %s or %s, got %q", nodeindex.ModeMemory, nodeindex.ModeMmap, c.NodeIndex)
	}
	if c.RegionKey == "" {
		return eris.New("region key column is required")
	}
	if c.CategoriesFile != "" && c.ClassifierScript != "" {
		return eris.New("categories file and classifier script are mutually exclusive")
	}
	for i, s := range c.Census {
		if s.Input == "" {
			return eris.Errorf("census source %d has no input", i)
		}
		if s.Name == "" {
			return eris.Errorf("census source %d (%s) has no name", i, s.Input)
		}
	}
	return nil
}

// ValidateExtract checks the settings the extraction stage needs
func (c *Config) ValidateExtract() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.OSMFile == "" {
		return eris.New("OSM input file is required")
	}
	return nil
}

// CheckInputs stats every configured input file and returns
// table.ErrInputMissing for the first one that does not exist.
func (c *Config) CheckInputs() error {
	inputs := []struct{ name, path string }{
		{"OSM input", c.OSMFile},
		{"region boundaries", c.RegionFile},
		{"category rules", c.CategoriesFile},
		{"store category rules", c.StoreCategoriesFile},
		{"classifier script", c.ClassifierScript},
		{"feature definitions", c.FeaturesFile},
	}
	for _, s := range c.Census {
		inputs = append(inputs, struct{ name, path string }{"census source " + s.Name, s.Input})
	}
	for _, in := range inputs {
		if in.path == "" {
			continue
		}
		if _, err := os.Stat(in.path); err != nil {
			if os.IsNotExist(err) {
				return eris.Wrapf(table.ErrInputMissing, "%s %s", in.name, in.path)
			}
			return eris.Wrapf(err, "config: %s", in.name)
		}
	}
	return nil
}

// ValidateRun checks the settings the full pipeline needs
func (c *Config) ValidateRun() error {
	if err := c.ValidateExtract(); err != nil {
		return err
	}
	if c.RegionFile == "" {
		return eris.New("region boundary file is required")
	}
	return nil
}
