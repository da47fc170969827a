package merge

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/storesite/internal/table"
)

func read(t *testing.T, csv string) *table.Table {
	t.Helper()
	tbl, _, err := table.ReadCSV(strings.NewReader(csv), "SA1_CODE_2021")
	require.NoError(t, err)
	return tbl
}

func TestMerge(t *testing.T) {
	counts := read(t, "SA1_CODE_2021,school_count\n10205,2\n10206,0\n10207,1\n")
	g01 := read(t, "SA1_CODE_2021,Tot_P_P\n10206.0,80\n10205,120\n")
	g33 := read(t, "SA1_CODE_2021,Tot_Tot\n10205,40\n10206,30\n10208,9\n")

	out, err := Merge(counts, g01, g33)
	require.NoError(t, err)

	assert.Equal(t, "SA1_CODE_2021", out.Key())
	assert.Equal(t, []string{"school_count", "Tot_P_P", "Tot_Tot"}, out.Columns())
	assert.Equal(t, []string{"10205", "10206"}, out.Codes())

	row, _ := out.Row("10206")
	assert.Equal(t, []float64{0, 80, 30}, row)
}

func TestJoinStep(t *testing.T) {
	left := read(t, "SA1_CODE_2021,a\n1,1\n2,2\n3,3\n")
	right := read(t, "SA1_CODE_2021,b\n2,20\n4,40\n")

	out, step, err := Join(left, right)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, Step{Left: 3, Right: 2, Rows: 1, DroppedLeft: 2, DroppedRight: 1}, step)
}

func TestMergeLeadingZerosDoNotMatch(t *testing.T) {
	padded := read(t, "SA1_CODE_2021,a\n010205,1\n")
	plain := read(t, "SA1_CODE_2021,b\n10205,2\n")

	_, err := Merge(padded, plain)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyJoin))

	// Same result whichever side is padded
	_, err = Merge(plain, padded)
	assert.True(t, errors.Is(err, ErrEmptyJoin))
}

func TestMergeDisjointKeys(t *testing.T) {
	a := read(t, "SA1_CODE_2021,a\n1,1\n")
	b := read(t, "SA1_CODE_2021,b\n2,2\n")

	_, err := Merge(a, b)
	assert.True(t, errors.Is(err, ErrEmptyJoin))
}

func TestMergeColumnConflict(t *testing.T) {
	a := read(t, "SA1_CODE_2021,Tot_P_P\n1,1\n")
	b := read(t, "SA1_CODE_2021,Tot_P_P\n1,2\n")

	_, err := Merge(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, table.ErrColumnConflict))
}

func TestMergeSingleAndNone(t *testing.T) {
	a := read(t, "SA1_CODE_2021,a\n1,1\n")
	out, err := Merge(a)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())

	_, err = Merge()
	assert.Error(t, err)
}
