package pipeline

import (
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wegman-software/storesite/internal/table"
)

// Output file names, relative to the output directory. Parquet copies use
// the same stem with a .parquet extension.
const (
	FeaturePointsFile = "feature_points.csv"
	StorePointsFile   = "store_locations.csv"
	FeatureCountsFile = "osm_features.csv"
	MasterFile        = "MASTER_dataset.csv"
	EngineeredFile    = "engineered_features.csv"
	TrainingFile      = "FINAL_TRAINING_DATASET.csv"
	ManifestFile      = "run_manifest.json"
	TagReportFile     = "tag_inventory.txt"
)

// Target names used by the extraction stage
const (
	TargetFeatures = "features"
	TargetStores   = "stores"
)

// ExtractStats summarises the extraction stage
type ExtractStats struct {
	Nodes          int64            `json:"nodes"`
	Ways           int64            `json:"ways"`
	Relations      int64            `json:"relations"`
	FeaturePoints  int64            `json:"feature_points"`
	StorePoints    int64            `json:"store_points"`
	Duplicates     int64            `json:"duplicates"`
	Skipped        map[string]int64 `json:"skipped"`
	ScriptFailures int64            `json:"script_failures,omitempty"`
	DurationSec    float64          `json:"duration_sec"`
}

// JoinStats summarises a point-to-region join
type JoinStats struct {
	Located   int `json:"located"`
	Unlocated int `json:"unlocated"`
}

// StageTiming records how long one stage took
type StageTiming struct {
	Stage       string  `json:"stage"`
	DurationSec float64 `json:"duration_sec"`
}

// Manifest describes one pipeline run
type Manifest struct {
	RunID     string            `json:"run_id"`
	Started   time.Time         `json:"started"`
	Finished  time.Time         `json:"finished"`
	Inputs    map[string]string `json:"inputs"`
	Outputs   []string          `json:"outputs"`
	Regions   int               `json:"regions"`
	Extract   ExtractStats      `json:"extract"`
	Features  JoinStats         `json:"features"`
	Stores    JoinStats         `json:"stores"`
	Rows      map[string]int    `json:"rows"`
	Dropped   []string          `json:"dropped_features,omitempty"`
	Labels    map[int]int       `json:"store_count_distribution"`
	Positive  int               `json:"positive_rows"`
	Warnings  []string          `json:"warnings,omitempty"`
	Stages    []StageTiming     `json:"stages"`
	PeakRSSMB float64           `json:"peak_rss_mb,omitempty"`
}

func newManifest(runID string) *Manifest {
	return &Manifest{
		RunID:   runID,
		Started: time.Now().UTC(),
		Inputs:  make(map[string]string),
		Rows:    make(map[string]int),
		Labels:  make(map[int]int),
		Extract: ExtractStats{Skipped: make(map[string]int64)},
	}
}

func (m *Manifest) warn(msg string) {
	m.Warnings = append(m.Warnings, msg)
}

// WriteFile writes the manifest as indented JSON
func (m *Manifest) WriteFile(path string) error {
	return table.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(m), "pipeline: encode manifest")
	})
}

// ReadManifest reads a manifest written by WriteFile
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, eris.Wrap(err, "pipeline: decode manifest")
	}
	return &m, nil
}
