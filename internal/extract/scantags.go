package extract

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/paulmach/osm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/logger"
)

// DefaultScanKeys are the keys inventoried when none are given
var DefaultScanKeys = []string{"amenity", "shop"}

// TagInventory counts the distinct values of selected keys across all elements
type TagInventory struct {
	Keys     []string
	Values   map[string]map[string]int64
	Elements int64
}

// ScanTags reads every element once and collects the values of keys.
// Values are recorded as tagged; compound values are not split.
func ScanTags(ctx context.Context, src *Source, keys []string) (*TagInventory, error) {
	if len(keys) == 0 {
		keys = DefaultScanKeys
	}
	inv := &TagInventory{
		Keys:   keys,
		Values: make(map[string]map[string]int64, len(keys)),
	}
	for _, k := range keys {
		inv.Values[k] = make(map[string]int64)
	}

	sc, err := src.Scan(ctx, Pass{Nodes: true, Ways: true, Relations: true})
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	for sc.Scan() {
		var tags osm.Tags
		switch o := sc.Object().(type) {
		case *osm.Node:
			tags = o.Tags
		case *osm.Way:
			tags = o.Tags
		case *osm.Relation:
			tags = o.Tags
		default:
			continue
		}
		inv.Elements++
		for _, t := range tags {
			if vals, ok := inv.Values[t.Key]; ok {
				vals[t.Value]++
			}
		}
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return nil, eris.Wrapf(err, "extract: scan %s", src.Path)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "extract: cancelled")
	}

	fields := []zap.Field{zap.Int64("elements", inv.Elements)}
	for _, k := range keys {
		fields = append(fields, zap.Int("unique_"+k, len(inv.Values[k])))
	}
	logger.Stage("scan-tags").Info("Tag scan complete", fields...)
	return inv, nil
}

// Sorted returns the values seen for key in lexical order
func (inv *TagInventory) Sorted(key string) []string {
	vals := inv.Values[key]
	out := make([]string, 0, len(vals))
	for v := range vals {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// WriteReport writes one section per key listing each value and its count
func (inv *TagInventory) WriteReport(w io.Writer) error {
	var b strings.Builder
	for i, k := range inv.Keys {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "# %s: %d unique values\n", k, len(inv.Values[k]))
		for _, v := range inv.Sorted(k) {
			fmt.Fprintf(&b, "%s\t%d\n", v, inv.Values[k][v])
		}
	}
	_, err := io.WriteString(w, b.String())
	return eris.Wrap(err, "extract: write tag report")
}
