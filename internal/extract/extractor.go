// Package extract scans an OSM file and turns matched elements into
// categorised points: nodes at their location, areas at their envelope centre.
package extract

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/category"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/nodeindex"
)

// Point is one extracted element
type Point struct {
	Category string
	Type     osm.Type
	ID       int64
	Lon      float64
	Lat      float64
}

// Location returns the point as an orb geometry
func (p Point) Location() orb.Point { return orb.Point{p.Lon, p.Lat} }

// Target is a named matcher whose points are collected separately
type Target struct {
	Name    string
	Matcher category.Matcher
}

// Stats are the per-target counters of one extraction
type Stats struct {
	Matched    int64
	Emitted    int64
	Duplicates int64
	Skipped    map[SkipReason]int64
}

// SkippedTotal sums the skip counters
func (s Stats) SkippedTotal() int64 {
	var n int64
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// Result holds the points of one target
type Result struct {
	Target string
	Points []Point
	Stats  Stats
}

// ScanStats counts elements read from the file
type ScanStats struct {
	Nodes     int64
	Ways      int64
	Relations int64
	Duration  time.Duration
}

type elementKey struct {
	typ osm.Type
	id  int64
}

type targetState struct {
	Target
	seen   map[elementKey]struct{}
	result *Result
}

type pendingRelation struct {
	id      int64
	labels  []string // per target, "" when the target did not match
	members []int64
}

// Extractor runs a two-pass extraction for several targets over one file.
// Pass 1 indexes node locations, emits matched nodes and collects matched
// area relations. Pass 2 emits matched area ways and caches the envelopes of
// relation member ways; pending relations are resolved at the end.
type Extractor struct {
	src     *Source
	index   nodeindex.Index
	targets []*targetState

	pending   []pendingRelation
	wanted    map[int64]struct{}
	memberBox map[int64]orb.Bound

	nodes, ways, relations atomic.Int64
}

// New creates an extractor. The index is owned by the caller.
func New(src *Source, index nodeindex.Index, targets ...Target) (*Extractor, error) {
	if len(targets) == 0 {
		return nil, eris.New("extract: no targets")
	}
	e := &Extractor{
		src:       src,
		index:     index,
		wanted:    make(map[int64]struct{}),
		memberBox: make(map[int64]orb.Bound),
	}
	names := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.Matcher == nil {
			return nil, eris.Errorf("extract: target %q has no matcher", t.Name)
		}
		if names[t.Name] {
			return nil, eris.Errorf("extract: target %q defined twice", t.Name)
		}
		names[t.Name] = true
		e.targets = append(e.targets, &targetState{
			Target: t,
			seen:   make(map[elementKey]struct{}),
			result: &Result{
				Target: t.Name,
				Stats:  Stats{Skipped: make(map[SkipReason]int64)},
			},
		})
	}
	return e, nil
}

// Run performs both passes and returns one result per target, in target order
func (e *Extractor) Run(ctx context.Context) ([]*Result, *ScanStats, error) {
	log := logger.Stage("extract")
	start := time.Now()

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go NewProgressTicker(tctx, 5*time.Second, func() {
		log.Debug("Extraction progress",
			zap.String("nodes", FormatCount(e.nodes.Load())),
			zap.String("ways", FormatCount(e.ways.Load())),
			zap.String("relations", FormatCount(e.relations.Load())))
	}).Run()

	log.Info("Pass 1: indexing nodes and collecting relations", zap.String("input", e.src.Path))
	if err := e.scan(ctx, Pass{Nodes: true, Relations: true}, e.pass1); err != nil {
		return nil, nil, err
	}
	log.Info("Pass 1 complete",
		zap.Int64("nodes", e.nodes.Load()),
		zap.Int64("relations", e.relations.Load()),
		zap.Int("pending_relations", len(e.pending)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))

	pass2 := time.Now()
	log.Info("Pass 2: resolving areas")
	if err := e.scan(ctx, Pass{Ways: true}, e.pass2); err != nil {
		return nil, nil, err
	}
	e.resolveRelations()
	log.Info("Pass 2 complete",
		zap.Int64("ways", e.ways.Load()),
		zap.Duration("duration", time.Since(pass2).Round(time.Millisecond)))

	stats := &ScanStats{
		Nodes:     e.nodes.Load(),
		Ways:      e.ways.Load(),
		Relations: e.relations.Load(),
		Duration:  time.Since(start),
	}

	results := make([]*Result, len(e.targets))
	for i, t := range e.targets {
		results[i] = t.result
		fields := []zap.Field{
			zap.String("target", t.Name),
			zap.Int64("matched", t.result.Stats.Matched),
			zap.Int64("points", t.result.Stats.Emitted),
			zap.Int64("duplicates", t.result.Stats.Duplicates),
		}
		for reason, n := range t.result.Stats.Skipped {
			fields = append(fields, zap.Int64("skipped_"+string(reason), n))
		}
		log.Info("Target extracted", fields...)
	}
	return results, stats, nil
}

func (e *Extractor) scan(ctx context.Context, pass Pass, fn func(osm.Object)) error {
	sc, err := e.src.Scan(ctx, pass)
	if err != nil {
		return err
	}
	defer sc.Close()

	for sc.Scan() {
		fn(sc.Object())
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return eris.Wrapf(err, "extract: scan %s", e.src.Path)
	}
	return eris.Wrap(ctx.Err(), "extract: cancelled")
}

func (e *Extractor) pass1(obj osm.Object) {
	switch o := obj.(type) {
	case *osm.Node:
		e.nodes.Add(1)
		e.index.Put(int64(o.ID), o.Lon, o.Lat)
		if len(o.Tags) == 0 {
			return
		}
		key := elementKey{osm.TypeNode, int64(o.ID)}
		var res *Resolution
		for _, t := range e.targets {
			label, ok := t.Matcher.Match(o.Tags)
			if !ok {
				continue
			}
			if res == nil {
				r := ResolveNode(o)
				res = &r
			}
			t.emit(key, label, *res)
		}
	case *osm.Relation:
		e.relations.Add(1)
		if len(o.Tags) == 0 || !IsAreaRelation(o) {
			return
		}
		var labels []string
		for i, t := range e.targets {
			label, ok := t.Matcher.Match(o.Tags)
			if !ok {
				continue
			}
			if labels == nil {
				labels = make([]string, len(e.targets))
			}
			labels[i] = label
		}
		if labels == nil {
			return
		}
		p := pendingRelation{id: int64(o.ID), labels: labels}
		for _, m := range o.Members {
			if m.Type != osm.TypeWay {
				continue
			}
			p.members = append(p.members, m.Ref)
			e.wanted[m.Ref] = struct{}{}
		}
		e.pending = append(e.pending, p)
	}
}

func (e *Extractor) pass2(obj osm.Object) {
	w, ok := obj.(*osm.Way)
	if !ok {
		return
	}
	e.ways.Add(1)

	if _, ok := e.wanted[int64(w.ID)]; ok {
		if b, ok := wayBound(w, e.index); ok {
			e.memberBox[int64(w.ID)] = b
		}
	}

	if len(w.Tags) == 0 || !IsArea(w) {
		return
	}
	key := elementKey{osm.TypeWay, int64(w.ID)}
	var res *Resolution
	for _, t := range e.targets {
		label, ok := t.Matcher.Match(w.Tags)
		if !ok {
			continue
		}
		if res == nil {
			r := ResolveWay(w, e.index)
			res = &r
		}
		t.emit(key, label, *res)
	}
}

func (e *Extractor) resolveRelations() {
	for _, p := range e.pending {
		res := ResolveRelation(p.members, e.memberBox)
		key := elementKey{osm.TypeRelation, p.id}
		for i, label := range p.labels {
			if label == "" {
				continue
			}
			e.targets[i].emit(key, label, res)
		}
	}
	e.pending = nil
	e.wanted = nil
	e.memberBox = nil
}

func (t *targetState) emit(key elementKey, label string, res Resolution) {
	st := &t.result.Stats
	st.Matched++
	if _, dup := t.seen[key]; dup {
		st.Duplicates++
		return
	}
	t.seen[key] = struct{}{}

	if !res.OK() {
		st.Skipped[res.Skip]++
		return
	}
	st.Emitted++
	t.result.Points = append(t.result.Points, Point{
		Category: label,
		Type:     key.typ,
		ID:       key.id,
		Lon:      res.Point[0],
		Lat:      res.Point[1],
	})
}
