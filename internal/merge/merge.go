// Package merge inner-joins region feature tables on their region code
package merge

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/table"
)

// ErrEmptyJoin is returned when the key sets of the merged tables do not overlap
var ErrEmptyJoin = eris.New("merge produced no rows")

// Step describes one pairwise join
type Step struct {
	Left, Right  int // input row counts
	Rows         int // output rows
	DroppedLeft  int // left codes without a partner
	DroppedRight int // right codes without a partner
}

// Join inner-joins right onto left. Rows keep left order and the output is
// keyed like left. A non-key column present in both tables is an error.
func Join(left, right *table.Table) (*table.Table, Step, error) {
	leftCols := left.Columns()
	rightCols := right.Columns()
	for _, c := range rightCols {
		if left.HasColumn(c) || c == left.Key() {
			return nil, Step{}, eris.Wrapf(table.ErrColumnConflict, "%q appears in both tables", c)
		}
	}
	for _, c := range leftCols {
		if c == right.Key() && right.Key() != left.Key() {
			return nil, Step{}, eris.Wrapf(table.ErrColumnConflict, "%q is a column of one table and the key of the other", c)
		}
	}

	out, err := table.New(left.Key(), append(leftCols, rightCols...))
	if err != nil {
		return nil, Step{}, err
	}

	step := Step{Left: left.Len(), Right: right.Len()}
	err = left.Each(func(code string, row []float64) error {
		other, ok := right.Row(code)
		if !ok {
			step.DroppedLeft++
			return nil
		}
		vals := make([]float64, 0, len(row)+len(other))
		vals = append(vals, row...)
		vals = append(vals, other...)
		return out.Append(code, vals)
	})
	if err != nil {
		return nil, Step{}, err
	}
	step.Rows = out.Len()
	step.DroppedRight = right.Len() - step.Rows
	return out, step, nil
}

// Merge joins the tables left to right. The first table sets the key name and
// row order. An empty result fails with ErrEmptyJoin.
func Merge(tables ...*table.Table) (*table.Table, error) {
	if len(tables) == 0 {
		return nil, eris.New("merge: no tables")
	}
	log := logger.Stage("merge")

	out := tables[0]
	for i, t := range tables[1:] {
		var step Step
		var err error
		out, step, err = Join(out, t)
		if err != nil {
			return nil, eris.Wrapf(err, "merge: table %d", i+2)
		}
		fields := []zap.Field{
			zap.Int("table", i+2),
			zap.Int("left", step.Left),
			zap.Int("right", step.Right),
			zap.Int("rows", step.Rows),
		}
		if step.DroppedLeft > 0 || step.DroppedRight > 0 {
			log.Warn("Codes without a partner dropped",
				append(fields, zap.Int("dropped_left", step.DroppedLeft), zap.Int("dropped_right", step.DroppedRight))...)
		} else {
			log.Info("Tables joined", fields...)
		}
	}

	if out.Len() == 0 {
		return nil, eris.Wrapf(ErrEmptyJoin, "%d tables share no %s values", len(tables), tables[0].Key())
	}
	log.Info("Merge complete", zap.Int("rows", out.Len()), zap.Int("columns", len(out.Columns())))
	return out, nil
}
