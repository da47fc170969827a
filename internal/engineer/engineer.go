// Package engineer derives normalised ratio features from a merged region table
package engineer

import (
	"math"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/storesite/internal/logger"
	"github.com/wegman-software/storesite/internal/table"
)

// Expr is a sum of columns minus a sum of columns
type Expr struct {
	Add []string `yaml:"add"`
	Sub []string `yaml:"sub,omitempty"`
}

// Columns lists every column the expression reads
func (e Expr) Columns() []string {
	return append(append([]string(nil), e.Add...), e.Sub...)
}

// Base is a denominator. A value of exactly zero is replaced by Zero so
// ratios stay finite.
type Base struct {
	Name string  `yaml:"name"`
	Expr Expr    `yaml:"expr"`
	Zero float64 `yaml:"zero"`
}

// Feature is Numerator / Base, or the raw numerator when Base is empty.
// A required feature whose inputs are missing aborts the run; an optional one
// is dropped with a warning.
type Feature struct {
	Name      string `yaml:"name"`
	Numerator Expr   `yaml:"numerator"`
	Base      string `yaml:"base,omitempty"`
	Optional  bool   `yaml:"optional,omitempty"`
}

// Spec is the full feature definition, loadable from YAML
type Spec struct {
	Bases    []Base    `yaml:"bases"`
	Features []Feature `yaml:"features"`
}

// Result carries the engineered table and the features that were dropped
type Result struct {
	Table   *table.Table
	Dropped []string
}

type compiled struct {
	name string
	num  func([]float64) float64
	base *compiledBase
}

type compiledBase struct {
	eval func([]float64) float64
	zero float64
}

func compileExpr(t *table.Table, e Expr) (func([]float64) float64, error) {
	add := make([]func([]float64) float64, len(e.Add))
	for i, c := range e.Add {
		f, err := t.Lookup(c)
		if err != nil {
			return nil, err
		}
		add[i] = f
	}
	sub := make([]func([]float64) float64, len(e.Sub))
	for i, c := range e.Sub {
		f, err := t.Lookup(c)
		if err != nil {
			return nil, err
		}
		sub[i] = f
	}
	return func(row []float64) float64 {
		var v float64
		for _, f := range add {
			v += f(row)
		}
		for _, f := range sub {
			v -= f(row)
		}
		return v
	}, nil
}

// Validate checks names and base references
func (s *Spec) Validate() error {
	if len(s.Features) == 0 {
		return eris.New("engineer: no features defined")
	}
	bases := make(map[string]bool, len(s.Bases))
	for _, b := range s.Bases {
		if b.Name == "" || len(b.Expr.Add) == 0 {
			return eris.Errorf("engineer: base %q needs a name and at least one column", b.Name)
		}
		if bases[b.Name] {
			return eris.Errorf("engineer: base %q defined twice", b.Name)
		}
		if b.Zero == 0 {
			return eris.Errorf("engineer: base %q needs a non-zero substitute", b.Name)
		}
		bases[b.Name] = true
	}
	names := make(map[string]bool, len(s.Features))
	for _, f := range s.Features {
		if f.Name == "" || len(f.Numerator.Add) == 0 {
			return eris.Errorf("engineer: feature %q needs a name and at least one column", f.Name)
		}
		if names[f.Name] {
			return eris.Errorf("engineer: feature %q defined twice", f.Name)
		}
		if f.Base != "" && !bases[f.Base] {
			return eris.Errorf("engineer: feature %q uses unknown base %q", f.Name, f.Base)
		}
		names[f.Name] = true
	}
	return nil
}

// Engineer evaluates every feature for every row. The output keeps the key
// column and row order and holds only the engineered columns. Non-finite
// results are written as 0.
func Engineer(t *table.Table, spec *Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	log := logger.Stage("engineer")

	bases := make(map[string]*compiledBase, len(spec.Bases))
	baseErr := make(map[string]error)
	for _, b := range spec.Bases {
		eval, err := compileExpr(t, b.Expr)
		if err != nil {
			baseErr[b.Name] = eris.Wrapf(err, "base %s", b.Name)
			continue
		}
		bases[b.Name] = &compiledBase{eval: eval, zero: b.Zero}
	}

	res := &Result{}
	var feats []compiled
	var names []string
	for _, f := range spec.Features {
		num, err := compileExpr(t, f.Numerator)
		if err == nil && f.Base != "" {
			err = baseErr[f.Base]
		}
		if err != nil {
			if !f.Optional {
				return nil, eris.Wrapf(err, "engineer: required feature %s", f.Name)
			}
			log.Warn("Optional feature dropped", zap.String("feature", f.Name), zap.Error(err))
			res.Dropped = append(res.Dropped, f.Name)
			continue
		}
		c := compiled{name: f.Name, num: num}
		if f.Base != "" {
			c.base = bases[f.Base]
		}
		feats = append(feats, c)
		names = append(names, f.Name)
	}
	if len(feats) == 0 {
		return nil, eris.Wrap(table.ErrMissingColumn, "engineer: no feature could be computed")
	}

	out, err := table.New(t.Key(), names)
	if err != nil {
		return nil, eris.Wrap(err, "engineer")
	}

	var nonFinite int
	err = t.Each(func(code string, row []float64) error {
		vals := make([]float64, len(feats))
		for i, f := range feats {
			v := f.num(row)
			if f.base != nil {
				d := f.base.eval(row)
				if d == 0 {
					d = f.base.zero
				}
				v /= d
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				nonFinite++
				v = 0
			}
			vals[i] = v
		}
		return out.Append(code, vals)
	})
	if err != nil {
		return nil, eris.Wrap(err, "engineer")
	}

	log.Info("Features engineered",
		zap.Int("rows", out.Len()),
		zap.Int("features", len(names)),
		zap.Int("dropped", len(res.Dropped)),
		zap.Int("non_finite_zeroed", nonFinite))
	res.Table = out
	return res, nil
}

// LoadSpec reads a feature definition from YAML
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "engineer: read %s", path)
	}
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "engineer: parse %s", path)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
