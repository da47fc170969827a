package category

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tags(kv ...string) osm.Tags {
	var t osm.Tags
	for i := 0; i+1 < len(kv); i += 2 {
		t = append(t, osm.Tag{Key: kv[i], Value: kv[i+1]})
	}
	return t
}

func TestDefaultFeatureRules(t *testing.T) {
	r := DefaultFeatureRules()

	tests := []struct {
		name  string
		tags  osm.Tags
		want  string
		match bool
	}{
		{"school", tags("amenity", "school"), "school_count", true},
		{"supermarket", tags("shop", "supermarket", "name", "Foo"), "competitor_supermarket_count", true},
		{"office wildcard", tags("office", "lawyer"), "office_count", true},
		{"compound value", tags("amenity", "parking;atm"), "parking_count", true},
		{"compound with spaces", tags("amenity", " bank ; cafe "), "cafe_count", true},
		{"unrelated", tags("highway", "residential"), "", false},
		{"unknown value", tags("amenity", "bench"), "", false},
		{"no tags", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Match(tt.tags)
			assert.Equal(t, tt.match, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchPriorityIndependentOfTagOrder(t *testing.T) {
	r := DefaultFeatureRules()

	a, ok := r.Match(tags("amenity", "school", "shop", "supermarket"))
	require.True(t, ok)
	b, ok := r.Match(tags("shop", "supermarket", "amenity", "school"))
	require.True(t, ok)

	assert.Equal(t, "competitor_supermarket_count", a)
	assert.Equal(t, a, b)
}

func TestDefaultStoreRules(t *testing.T) {
	r := DefaultStoreRules()
	assert.Equal(t, []string{StoreLabel}, r.Categories())

	for _, v := range []string{"convenience", "conveneince", "Milk_Bar", "General Store", "kiosk;newsagent"} {
		got, ok := r.Match(tags("shop", v))
		assert.True(t, ok, v)
		assert.Equal(t, StoreLabel, got, v)
	}

	_, ok := r.Match(tags("shop", "supermarket"))
	assert.False(t, ok)
	_, ok = r.Match(tags("amenity", "convenience"))
	assert.False(t, ok)
}

func TestCompileRejectsBadRules(t *testing.T) {
	_, err := Compile(nil)
	assert.Error(t, err)

	_, err = Compile([]Category{{Name: "", Tags: map[string][]string{"a": {"b"}}}})
	assert.Error(t, err)

	_, err = Compile([]Category{{Name: "x"}})
	assert.Error(t, err)

	_, err = Compile([]Category{
		{Name: "x", Tags: map[string][]string{"a": {"b"}}},
		{Name: "x", Tags: map[string][]string{"a": {"c"}}},
	})
	assert.Error(t, err)
}

func TestEmptyValueListIsWildcard(t *testing.T) {
	r, err := Compile([]Category{{Name: "any_shop", Tags: map[string][]string{"shop": nil}}})
	require.NoError(t, err)

	got, ok := r.Match(tags("shop", "bakery"))
	require.True(t, ok)
	assert.Equal(t, "any_shop", got)
}

func TestLoadRulesKeepsDocumentOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := `categories:
  - name: clinic_count
    tags:
      amenity: [clinic, doctors]
  - name: health_count
    tags:
      healthcare: ["*"]
      amenity: [clinic, pharmacy]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	r, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"clinic_count", "health_count"}, r.Categories())

	got, _ := r.Match(tags("amenity", "clinic"))
	assert.Equal(t, "clinic_count", got)
	got, _ = r.Match(tags("amenity", "pharmacy"))
	assert.Equal(t, "health_count", got)
	got, _ = r.Match(tags("healthcare", "dentist", "amenity", "doctors"))
	assert.Equal(t, "clinic_count", got)
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSplitValues(t *testing.T) {
	assert.Equal(t, []string{"a"}, SplitValues(" a "))
	assert.Equal(t, []string{"a", "b", "c"}, SplitValues("a;b; c"))
	assert.Equal(t, []string{"a"}, SplitValues("a;;"))
	assert.Empty(t, SplitValues(""))
	assert.Empty(t, SplitValues(" ; "))
}
