// Package label attaches the store-count target to the engineered feature table
package label

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/category"
	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
)

// Output columns appended to the feature table
const (
	CountColumn = "store_count"
	LabelColumn = "is_suitable_location"
)

// Result is the labelled training table plus join diagnostics
type Result struct {
	Table *table.Table
	// Located is the number of stores inside some region
	Located int
	// Unlocated is the number of stores outside every region
	Unlocated int
	// Ignored counts points whose category is not a store category
	Ignored int
	// UnknownRegions counts feature rows whose code is not in the region set
	UnknownRegions int
	// Positive is the number of rows labelled 1
	Positive int
	// Distribution maps store_count to the number of rows with that count
	Distribution map[int]int
}

// Assign counts stores per region and left-joins the counts onto features.
// Only points whose category is in storeCategories are counted; nil means
// category.StoreLabel. Every feature row is kept; rows without stores get
// store_count 0. The label is 1 when store_count > 0.
func Assign(features *table.Table, ix *region.Index, stores []extract.Point, storeCategories []string) (*Result, error) {
	if len(storeCategories) == 0 {
		storeCategories = []string{category.StoreLabel}
	}
	accept := make(map[string]bool, len(storeCategories))
	for _, c := range storeCategories {
		accept[c] = true
	}

	res := &Result{Distribution: make(map[int]int)}
	locs := make([]orb.Point, 0, len(stores))
	for _, p := range stores {
		if !accept[p.Category] {
			res.Ignored++
			continue
		}
		locs = append(locs, p.Location())
	}

	counts := make(map[string]int)
	for _, code := range ix.Join(locs) {
		if code == "" {
			res.Unlocated++
			continue
		}
		counts[code]++
		res.Located++
	}

	out, err := table.New(features.Key(), append(features.Columns(), CountColumn, LabelColumn))
	if err != nil {
		return nil, eris.Wrap(err, "label")
	}

	set := ix.Set()
	err = features.Each(func(code string, row []float64) error {
		if !set.Has(code) {
			res.UnknownRegions++
		}
		n := counts[code]
		var y float64
		if n > 0 {
			y = 1
			res.Positive++
		}
		res.Distribution[n]++
		vals := make([]float64, 0, len(row)+2)
		vals = append(vals, row...)
		vals = append(vals, float64(n), y)
		return out.Append(code, vals)
	})
	if err != nil {
		return nil, eris.Wrap(err, "label")
	}
	res.Table = out

	log := logger.Stage("label")
	if res.Ignored > 0 {
		log.Warn("Points without a store category ignored",
			zap.Int("points", res.Ignored),
			zap.Strings("store_categories", storeCategories))
	}
	if res.Located == 0 {
		log.Warn("No store fell inside a region; every label is 0", zap.Int("stores", len(locs)))
	}
	if res.UnknownRegions > 0 {
		log.Warn("Feature rows without a region polygon", zap.Int("rows", res.UnknownRegions))
	}
	log.Info("Labels assigned",
		zap.Int("rows", out.Len()),
		zap.Int("stores", len(locs)),
		zap.Int("located", res.Located),
		zap.Int("unlocated", res.Unlocated),
		zap.Int("positive", res.Positive))

	counts10 := res.Counts()
	if len(counts10) > 10 {
		counts10 = counts10[:10]
	}
	for _, n := range counts10 {
		log.Debug("store_count distribution", zap.Int("store_count", n), zap.Int("rows", res.Distribution[n]))
	}
	return res, nil
}

// Counts returns the distinct store_count values in ascending order
func (r *Result) Counts() []int {
	out := make([]int, 0, len(r.Distribution))
	for n := range r.Distribution {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
