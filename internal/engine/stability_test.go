package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RatingFlow/internal/domain/models"
)

func gradesOnlyScale(t *testing.T) *RatingScale {
	t.Helper()
	s, err := NewRatingScale([]string{"A", "B", "C"}, nil)
	require.NoError(t, err)
	return s
}

func fixedMatrix(t *testing.T) *TransitionMatrix {
	t.Helper()
	m, err := MatrixFromProbs(gradesOnlyScale(t), [][]float64{
		{0.85, 0.10, 0.05},
		{0.10, 0.80, 0.10},
		{0.05, 0.15, 0.80},
	})
	require.NoError(t, err)
	return m
}

func TestPSISelfIsZero(t *testing.T) {
	m := fixedMatrix(t)
	v, err := PSI(m, m, PSIConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v, "index between a matrix and itself is exactly 0")
}

func TestPSIDetectsShift(t *testing.T) {
	base := fixedMatrix(t)
	current, err := MatrixFromProbs(gradesOnlyScale(t), [][]float64{
		{0.60, 0.25, 0.15},
		{0.20, 0.60, 0.20},
		{0.10, 0.30, 0.60},
	})
	require.NoError(t, err)

	v, err := PSI(base, current, PSIConfig{})
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)

	weighted, err := PSI(base, current, PSIConfig{RowWeighted: true})
	require.NoError(t, err)
	assert.Greater(t, weighted, 0.0)
}

func TestPSIFloorsZeroCells(t *testing.T) {
	scale := gradesOnlyScale(t)
	base, err := MatrixFromProbs(scale, [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	})
	require.NoError(t, err)
	current, err := MatrixFromProbs(scale, [][]float64{
		{0.5, 0.5, 0},
		{0, 1, 0},
		{0, 0, 1},
	})
	require.NoError(t, err)

	// zero-vs-nonzero cells must contribute via the epsilon floor, not NaN/Inf
	v, err := PSI(base, current, PSIConfig{Epsilon: 1e-4})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v))
	assert.False(t, math.IsInf(v, 0))
	assert.Greater(t, v, 0.0)
}

func TestDiagonalDominance(t *testing.T) {
	m := fixedMatrix(t)
	v, err := DiagonalDominance(m)
	require.NoError(t, err)
	assert.InDelta(t, (0.85+0.80+0.80)/3, v, 1e-12)
}

func TestMobilityIndexIdentity(t *testing.T) {
	scale := gradesOnlyScale(t)
	eye, err := MatrixFromProbs(scale, [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	})
	require.NoError(t, err)

	v, err := MobilityIndex(eye)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, v, 1e-9, "no migration means zero mobility")
}

func TestMobilityIndexGrowsWithMigration(t *testing.T) {
	scale := gradesOnlyScale(t)
	mk := func(diag float64) *TransitionMatrix {
		off := (1 - diag) / 2
		m, err := MatrixFromProbs(scale, [][]float64{
			{diag, off, off},
			{off, diag, off},
			{off, off, diag},
		})
		require.NoError(t, err)
		return m
	}

	var prev float64
	for _, d := range []float64{0.9, 0.7, 0.5, 1.0 / 3.0} {
		v, err := MobilityIndex(mk(d))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, prev, "diag=%v", d)
		prev = v
	}
	// uniform matrix migrates maximally
	v, err := MobilityIndex(mk(1.0 / 3.0))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestMobilityIndexIllDefined(t *testing.T) {
	scale := gradesOnlyScale(t)
	m, err := MatrixFromProbs(scale, [][]float64{
		{1, 0, 0},
		{0, 0, 0}, // undefined row
		{0, 0, 1},
	})
	require.NoError(t, err)

	_, err = MobilityIndex(m)
	require.Error(t, err)
	var ill *IllDefinedMatrixError
	require.ErrorAs(t, err, &ill)
	assert.Equal(t, "B", ill.Row)

	_, err = DiagonalDominance(m)
	assert.ErrorAs(t, err, &ill)
}

func TestUpgradeDowngrade(t *testing.T) {
	scale := testScale(t)
	m, err := MatrixFromProbs(scale, [][]float64{
		{0.8, 0.1, 0.0, 0.1, 0.0}, // A: 10% downgrade to B, 10% to default
		{0.2, 0.7, 0.1, 0.0, 0.0}, // B: 20% upgrade, 10% downgrade
		{0.0, 0.3, 0.7, 0.0, 0.0}, // C: 30% upgrade
		{0, 0, 0, 1, 0},
		{0, 0, 0, 0, 1},
	})
	require.NoError(t, err)

	up, down, err := UpgradeDowngrade(m)
	require.NoError(t, err)
	assert.InDelta(t, (0.2+0.3)/3, up, 1e-12)
	assert.InDelta(t, (0.1+0.1+0.1)/3, down, 1e-12)
}

func TestChiSquareDistance(t *testing.T) {
	p := func() *Panel {
		scale := testScale(t)
		records := []models.ObservationRecord{
			obs("a", 0, "A"), obs("a", 1, "A"), obs("a", 2, "A"),
			obs("b", 0, "A"), obs("b", 1, "B"), obs("b", 2, "A"),
			obs("c", 0, "B"), obs("c", 1, "B"), obs("c", 2, "C"),
			obs("d", 0, "B"), obs("d", 1, "C"), obs("d", 2, "C"),
			obs("e", 0, "C"), obs("e", 1, "C"), obs("e", 2, "D"),
		}
		pn, err := Normalize(records, scale, NormalizerConfig{})
		require.NoError(t, err)
		return pn
	}()

	baseCounts, err := BuildCounts(p, Selector{Period: 0}, BuilderConfig{})
	require.NoError(t, err)
	currentCounts, err := BuildCounts(p, Selector{Period: 1}, BuilderConfig{})
	require.NoError(t, err)

	res, err := ChiSquareDistance(baseCounts.Normalize(), currentCounts, 1e-4)
	require.NoError(t, err)
	assert.Greater(t, res.DF, 0.0)
	assert.GreaterOrEqual(t, res.Stat, 0.0)
	assert.Greater(t, res.PValue, 0.0)
	assert.LessOrEqual(t, res.PValue, 1.0)

	// comparing a period against itself yields the minimum-distance statistic
	self, err := ChiSquareDistance(baseCounts.Normalize(), baseCounts, 1e-4)
	require.NoError(t, err)
	assert.LessOrEqual(t, self.Stat, res.Stat+1e-9)
}

func TestMonotonicityZ(t *testing.T) {
	p := smallPanel(t)
	counts, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	require.NoError(t, err)

	z, pv, err := MonotonicityZ(counts)
	require.NoError(t, err)
	require.Len(t, z, 3)
	require.Len(t, pv, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(z[i][i]), "diagonal carries no test")
		for j := 0; j < 3; j++ {
			if !math.IsNaN(pv[i][j]) {
				assert.GreaterOrEqual(t, pv[i][j], 0.0)
				assert.LessOrEqual(t, pv[i][j], 1.0)
			}
		}
	}
}
