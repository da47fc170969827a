// Package pipeline runs the stages end to end: regions, extraction,
// aggregation, census, merge, feature engineering and labelling.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/storesite/internal/config"
	"github.com/wegman-software/storesite/internal/engineer"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/label"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/merge"
	"github.com/wegman-software/storesite/internal/metrics"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
)

// Coordinator orchestrates a full run
type Coordinator struct {
	cfg       *config.Config
	collector *metrics.Collector
	log       *zap.Logger
	manifest  *Manifest
}

// NewCoordinator creates a coordinator for cfg
func NewCoordinator(cfg *config.Config) (*Coordinator, error) {
	if err := cfg.ValidateRun(); err != nil {
		return nil, err
	}
	return &Coordinator{cfg: cfg}, nil
}

// Run executes every stage. Metrics are collected alongside when an interval
// is configured. The manifest is written last; a failed run leaves none.
func (c *Coordinator) Run(ctx context.Context) (*Manifest, error) {
	runID := uuid.NewString()
	c.log = logger.Get().With(zap.String("run_id", runID))
	c.manifest = newManifest(runID)

	g, gctx := errgroup.WithContext(ctx)
	workCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	if c.cfg.MetricsInterval > 0 {
		c.collector = metrics.NewCollector(c.cfg.MetricsInterval, c.log)
		g.Go(func() error { return c.collector.Run(workCtx) })
		c.log.Info("System metrics collection started", zap.Duration("interval", c.cfg.MetricsInterval))
	}

	g.Go(func() error {
		defer stopMetrics()
		return c.run(gctx)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c.manifest, nil
}

// stage times fn and tags metrics with its name
func (c *Coordinator) stage(name string, fn func() error) error {
	if c.collector != nil {
		c.collector.SetStage(name)
	}
	c.log.Info("Stage started", zap.String("stage", name))
	start := time.Now()
	if err := fn(); err != nil {
		c.log.Error("Stage failed", zap.String("stage", name), zap.Error(err))
		return err
	}
	elapsed := time.Since(start)
	c.manifest.Stages = append(c.manifest.Stages, StageTiming{Stage: name, DurationSec: elapsed.Seconds()})
	c.log.Info("Stage complete", zap.String("stage", name), zap.Duration("duration", elapsed.Round(time.Millisecond)))
	return nil
}

func (c *Coordinator) run(ctx context.Context) error {
	cfg := c.cfg
	m := c.manifest
	m.Inputs["osm"] = cfg.OSMFile
	m.Inputs["regions"] = cfg.RegionFile
	for _, src := range cfg.Census {
		m.Inputs["census_"+src.Name] = src.Input
	}

	// Nothing is written until every input is known to exist.
	if err := cfg.CheckInputs(); err != nil {
		return err
	}
	if err := ensureOutputDir(cfg); err != nil {
		return err
	}

	matchers, err := BuildMatchers(cfg)
	if err != nil {
		return err
	}
	defer matchers.Close()

	var ix *region.Index
	if err := c.stage("regions", func() error {
		var err error
		ix, err = LoadRegions(ctx, cfg)
		if err != nil {
			return err
		}
		m.Regions = ix.Set().Len()
		return nil
	}); err != nil {
		return err
	}

	var ex *ExtractOutput
	if err := c.stage("extract", func() error {
		var err error
		ex, err = Extract(ctx, cfg, matchers)
		if err != nil {
			return err
		}
		c.recordExtract(ex, matchers)
		return nil
	}); err != nil {
		return err
	}

	var counts *table.Table
	if err := c.stage("aggregate", func() error {
		res, files, err := CountFeatures(cfg, ex.Features.Points, ix, ex.Categories)
		if err != nil {
			return err
		}
		if res.Warning != "" {
			m.warn(res.Warning)
		}
		m.Features = JoinStats{Located: res.Located, Unlocated: res.Outside}
		m.Outputs = append(m.Outputs, files...)
		m.Rows[FeatureCountsFile] = res.Table.Len()
		counts = res.Table
		return nil
	}); err != nil {
		return err
	}

	var censusTables []*table.Table
	if len(cfg.Census) > 0 {
		if err := c.stage("census", func() error {
			tables, files, err := Census(ctx, cfg)
			if err != nil {
				return err
			}
			censusTables = tables
			m.Outputs = append(m.Outputs, files...)
			return nil
		}); err != nil {
			return err
		}
	} else {
		c.log.Warn("No census sources configured; engineered features are skipped")
		m.warn("no census sources configured; training table holds OSM counts only")
	}

	var master *table.Table
	if err := c.stage("merge", func() error {
		var err error
		master, err = merge.Merge(append([]*table.Table{counts}, censusTables...)...)
		if err != nil {
			return err
		}
		files, err := WriteTable(cfg, MasterFile, master)
		if err != nil {
			return err
		}
		m.Outputs = append(m.Outputs, files...)
		m.Rows[MasterFile] = master.Len()
		return nil
	}); err != nil {
		return err
	}

	features := master
	if len(censusTables) > 0 {
		if err := c.stage("engineer", func() error {
			spec, err := FeatureSpec(cfg)
			if err != nil {
				return err
			}
			res, err := engineer.Engineer(master, spec)
			if err != nil {
				return err
			}
			features = res.Table
			m.Dropped = res.Dropped
			return nil
		}); err != nil {
			return err
		}
	}

	if err := c.stage("label", func() error {
		res, err := label.Assign(features, ix, ex.Stores.Points, matchers.Stores.Categories())
		if err != nil {
			return err
		}
		files, err := WriteTable(cfg, TrainingFile, res.Table)
		if err != nil {
			return err
		}
		m.Outputs = append(m.Outputs, files...)
		m.Rows[TrainingFile] = res.Table.Len()
		m.Stores = JoinStats{Located: res.Located, Unlocated: res.Unlocated}
		m.Labels = res.Distribution
		m.Positive = res.Positive
		if res.UnknownRegions > 0 {
			m.warn(fmt.Sprintf("%d feature rows have codes outside the region set", res.UnknownRegions))
		}
		return nil
	}); err != nil {
		return err
	}

	m.Finished = time.Now().UTC()
	if c.collector != nil {
		m.PeakRSSMB = c.collector.PeakRSSMB()
	}
	path := filepath.Join(cfg.OutputDir, ManifestFile)
	if err := m.WriteFile(path); err != nil {
		return err
	}
	m.Outputs = append(m.Outputs, path)

	c.log.Info("Run complete",
		zap.Int("regions", m.Regions),
		zap.Int("training_rows", m.Rows[TrainingFile]),
		zap.Int("positive", m.Positive),
		zap.Duration("duration", m.Finished.Sub(m.Started).Round(time.Millisecond)))
	return nil
}

func (c *Coordinator) recordExtract(ex *ExtractOutput, matchers *Matchers) {
	s := &c.manifest.Extract
	s.Nodes = ex.Scan.Nodes
	s.Ways = ex.Scan.Ways
	s.Relations = ex.Scan.Relations
	s.DurationSec = ex.Scan.Duration.Seconds()
	s.FeaturePoints = ex.Features.Stats.Emitted
	s.StorePoints = ex.Stores.Stats.Emitted
	for _, r := range []*extract.Result{ex.Features, ex.Stores} {
		s.Duplicates += r.Stats.Duplicates
		for reason, n := range r.Stats.Skipped {
			s.Skipped[r.Target+"_"+string(reason)] += n
		}
	}
	s.ScriptFailures, _ = matchers.ScriptFailures()
	c.manifest.Outputs = append(c.manifest.Outputs, ex.Files...)
}
