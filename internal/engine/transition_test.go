package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RatingFlow/internal/domain/models"
)

// smallPanel: three obligors over three periods, one default.
func smallPanel(t *testing.T) *Panel {
	t.Helper()
	scale := testScale(t)
	records := []models.ObservationRecord{
		obs("u", 0, "A"), obs("u", 1, "A"), obs("u", 2, "B"),
		obs("v", 0, "B"), obs("v", 1, "C"), obs("v", 2, "D"),
		obs("w", 0, "A"), obs("w", 1, "B"), obs("w", 2, "B"),
	}
	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)
	return p
}

func TestBuildCounts(t *testing.T) {
	p := smallPanel(t)
	m, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)

	c, ok := m.At("A", "A")
	require.True(t, ok)
	assert.Equal(t, 1.0, c)
	c, _ = m.At("A", "B")
	assert.Equal(t, 2.0, c)
	c, _ = m.At("C", "D")
	assert.Equal(t, 1.0, c)
	assert.Equal(t, 3.0, m.RowSum(0))
}

func TestNormalizeRowsSumToOne(t *testing.T) {
	p := smallPanel(t)
	m, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)
	prob := m.Normalize()

	n := prob.Dim()
	for i := 0; i < n; i++ {
		if prob.RowUndefined(i) {
			continue
		}
		var sum float64
		for j := 0; j < n; j++ {
			sum += prob.Cell(i, j)
		}
		assert.InDelta(t, 1.0, sum, RowSumTolerance, "row %d", i)
	}
}

func TestAbsorbingRowsAreIdentity(t *testing.T) {
	p := smallPanel(t)
	m, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)
	prob := m.Normalize()

	for _, a := range []string{"D", "W"} {
		i, ok := prob.Scale().Index(a)
		require.True(t, ok)
		assert.False(t, prob.RowUndefined(i))
		for j := 0; j < prob.Dim(); j++ {
			want := 0.0
			if j == i {
				want = 1.0
			}
			assert.Equal(t, want, prob.Cell(i, j))
		}
	}
}

func TestUndefinedRowsFlagged(t *testing.T) {
	scale := testScale(t)
	// nothing ever leaves C: its row has zero support
	records := []models.ObservationRecord{
		obs("x", 0, "A"), obs("x", 1, "B"),
		obs("y", 0, "B"), obs("y", 1, "A"),
	}
	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)
	m, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)
	prob := m.Normalize()

	assert.Contains(t, prob.UndefinedRows(), "C")
	assert.NotContains(t, prob.UndefinedRows(), "A")
	assert.NotContains(t, prob.UndefinedRows(), "D", "absorbing rows are identity, never undefined")
}

func TestBuildDeterminism(t *testing.T) {
	p := smallPanel(t)
	m1, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)
	m2, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)

	n := m1.Dim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.Equal(t, m1.Cell(i, j), m2.Cell(i, j))
		}
	}
	p1, p2 := m1.Normalize(), m2.Normalize()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.Equal(t, p1.Cell(i, j), p2.Cell(i, j))
		}
	}
}

func TestBuildEmptyCohort(t *testing.T) {
	scale := testScale(t)
	// every obligor observed in a single period: no consecutive pairs
	records := []models.ObservationRecord{
		obs("x", 3, "A"), obs("y", 3, "B"), obs("z", 3, "C"),
	}
	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)

	_, err = BuildCounts(p, AllPairs(), BuilderConfig{})
	require.Error(t, err)
	var ec *EmptyCohortError
	assert.ErrorAs(t, err, &ec)
}

func TestBuildPeriodSelector(t *testing.T) {
	p := smallPanel(t)
	m, err := BuildCounts(p, Selector{Period: 1}, BuilderConfig{})
	require.NoError(t, err)

	// only 1->2 transitions: A->B (u), C->D (v), B->B (w)
	var total float64
	for i := 0; i < m.Dim(); i++ {
		total += m.RowSum(i)
	}
	assert.Equal(t, 3.0, total)
}

func TestBuildGapCohorts(t *testing.T) {
	scale := testScale(t)
	records := []models.ObservationRecord{
		obs("x", 0, "A"), obs("x", 1, "B"), // single step
		obs("y", 0, "A"), obs("y", 3, "C"), // spans a 3-period gap
	}
	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)

	strict, err := Build(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, GapLengths(strict))

	multi, err := Build(p, AllPairs(), BuilderConfig{AllowMultiPeriodGaps: true})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, GapLengths(multi))
	assert.Equal(t, 3, multi[3].GapLength())
	c, _ := multi[3].At("A", "C")
	assert.Equal(t, 1.0, c)
}

func TestBuildExposureWeights(t *testing.T) {
	scale := testScale(t)
	records := []models.ObservationRecord{
		{EntityID: "x", Period: 0, Grade: "A", Weight: 2.5},
		{EntityID: "x", Period: 1, Grade: "B"},
	}
	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)

	m, err := BuildCounts(p, AllPairs(), BuilderConfig{Scheme: ExposureWeight})
	require.NoError(t, err)
	c, _ := m.At("A", "B")
	assert.Equal(t, 2.5, c)
}

func TestMatrixFromProbs(t *testing.T) {
	scale, err := NewRatingScale([]string{"A", "B", "C"}, nil)
	require.NoError(t, err)

	_, err = MatrixFromProbs(scale, [][]float64{
		{0.9, 0.1, 0},
		{0.1, 0.8, 0.1},
		{0, 0.2, 0.8},
	})
	require.NoError(t, err)

	_, err = MatrixFromProbs(scale, [][]float64{
		{0.9, 0.2, 0},
		{0.1, 0.8, 0.1},
		{0, 0.2, 0.8},
	})
	assert.Error(t, err, "row sum off tolerance")

	bad := [][]float64{{1, 0, 0}}
	_, err = MatrixFromProbs(scale, bad)
	assert.Error(t, err, "wrong dimension")
}
