// Package category classifies OSM elements into semantic categories
// ("school_count", "store", ...) from their tags.
package category

import (
	"os"
	"strings"

	"github.com/paulmach/osm"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Wildcard matches any value of a key
const Wildcard = "*"

// Matcher assigns at most one category label to a tag set
type Matcher interface {
	// Match returns the winning category label, or false when nothing matches
	Match(tags osm.Tags) (string, bool)
	// Categories lists every label the matcher can return, in priority order
	Categories() []string
}

// Category is a label and the (key, values) patterns that select it
type Category struct {
	Name string              `yaml:"name"`
	Tags map[string][]string `yaml:"tags"`
}

// File is the on-disk layout of a rules file
type File struct {
	Categories []Category `yaml:"categories"`
}

// Rules is a compiled, ordered rule set. Categories earlier in the list win
// when an element satisfies several of them.
type Rules struct {
	names []string
	byKey map[string]*keyRule
}

type keyRule struct {
	values   map[string]int // value -> best (lowest) category index
	wildcard int            // best category index for "*", -1 if none
}

// Compile validates categories and builds the lookup structure
func Compile(categories []Category) (*Rules, error) {
	if len(categories) == 0 {
		return nil, eris.New("category: no categories defined")
	}

	r := &Rules{byKey: make(map[string]*keyRule)}
	seen := make(map[string]bool, len(categories))

	for i, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, eris.Errorf("category: entry %d has no name", i)
		}
		if seen[name] {
			return nil, eris.Errorf("category: %q defined twice", name)
		}
		if len(c.Tags) == 0 {
			return nil, eris.Errorf("category: %q has no tag patterns", name)
		}
		seen[name] = true
		r.names = append(r.names, name)

		for key, values := range c.Tags {
			kr := r.byKey[key]
			if kr == nil {
				kr = &keyRule{values: make(map[string]int), wildcard: -1}
				r.byKey[key] = kr
			}
			// An empty value list means any value, like the style filter include rules.
			if len(values) == 0 {
				values = []string{Wildcard}
			}
			for _, v := range values {
				if v == Wildcard {
					if kr.wildcard < 0 {
						kr.wildcard = i
					}
					continue
				}
				if _, ok := kr.values[v]; !ok {
					kr.values[v] = i
				}
			}
		}
	}

	return r, nil
}

// LoadRules reads and compiles a YAML rules file
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "category: read rules file %s", path)
	}
	return ParseRules(data)
}

// ParseRules compiles YAML rules
func ParseRules(data []byte) (*Rules, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "category: parse rules YAML")
	}
	return Compile(f.Categories)
}

// Categories returns the labels in priority order
func (r *Rules) Categories() []string {
	return append([]string(nil), r.names...)
}

// Match checks every configured tag of the element. Compound values such as
// "convenience;kiosk" are split on ';' and each part is tested on its own.
// The highest-priority category among all satisfied patterns wins, so the result
// does not depend on the order of the element's tags.
func (r *Rules) Match(tags osm.Tags) (string, bool) {
	best := -1
	for _, tag := range tags {
		kr, ok := r.byKey[tag.Key]
		if !ok {
			continue
		}
		if kr.wildcard >= 0 && (best < 0 || kr.wildcard < best) {
			best = kr.wildcard
		}
		if len(kr.values) == 0 {
			continue
		}
		for _, part := range SplitValues(tag.Value) {
			if i, ok := kr.values[part]; ok && (best < 0 || i < best) {
				best = i
			}
		}
		if best == 0 {
			break
		}
	}
	if best < 0 {
		return "", false
	}
	return r.names[best], true
}

// SplitValues splits a compound OSM value on ';' and trims each part.
// Empty parts are dropped.
func SplitValues(v string) []string {
	if !strings.Contains(v, ";") {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		return []string{v}
	}
	parts := strings.Split(v, ";")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
