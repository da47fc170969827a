// Package aggregate counts categorised points per region
package aggregate

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/extract"
	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/region"
	"github.com/wegman-software/storesite/internal/table"
)

// Result is a dense region x category count table plus join diagnostics
type Result struct {
	Table *table.Table
	// Located is the number of points that fell inside a region
	Located int
	// Outside is the number of points outside every region
	Outside int
	// Uncategorised counts points whose category is not a table column
	Uncategorised int
	// Warning is set when no point was counted
	Warning string
}

// Aggregate joins points to regions and counts them per category. Every
// region of the index gets a row and every category a column; unobserved
// pairs are 0. Row order is region order, column order is category order.
func Aggregate(points []extract.Point, ix *region.Index, categories []string) (*Result, error) {
	if len(categories) == 0 {
		return nil, eris.New("aggregate: no categories")
	}
	set := ix.Set()
	t, err := table.New(set.Key, categories)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate")
	}

	col := make(map[string]int, len(categories))
	for i, c := range categories {
		col[c] = i
	}

	locs := make([]orb.Point, len(points))
	for i, p := range points {
		locs[i] = p.Location()
	}
	codes := ix.Join(locs)

	counts := make(map[string][]float64, set.Len())
	for _, code := range set.Codes() {
		counts[code] = make([]float64, len(categories))
	}

	res := &Result{}
	for i, code := range codes {
		if code == "" {
			res.Outside++
			continue
		}
		j, ok := col[points[i].Category]
		if !ok {
			res.Uncategorised++
			continue
		}
		counts[code][j]++
		res.Located++
	}

	for _, code := range set.Codes() {
		if err := t.Append(code, counts[code]); err != nil {
			return nil, eris.Wrap(err, "aggregate")
		}
	}
	res.Table = t

	log := logger.Stage("aggregate")
	if res.Located == 0 {
		switch {
		case len(points) == 0:
			res.Warning = "no points to aggregate; every count is 0"
		case res.Uncategorised > 0:
			res.Warning = fmt.Sprintf("%d of %d points fell inside a region but none has a category of the rules "+
				"(the points file and the category rules do not match); every count is 0",
				res.Uncategorised, len(points))
		default:
			res.Warning = fmt.Sprintf("none of %d points fell inside a region (check the region CRS); every count is 0", len(points))
		}
		log.Warn(res.Warning, zap.Int("regions", set.Len()))
	}
	log.Info("Points aggregated",
		zap.Int("points", len(points)),
		zap.Int("located", res.Located),
		zap.Int("outside", res.Outside),
		zap.Int("uncategorised", res.Uncategorised),
		zap.Int("regions", t.Len()),
		zap.Int("categories", len(categories)))
	return res, nil
}
