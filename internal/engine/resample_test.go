package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RatingFlow/internal/domain/models"
)

// syntheticPanel builds a deterministic panel of n obligors over 4 periods
// with mostly sticky ratings and occasional drift or default.
func syntheticPanel(t *testing.T, n int) *Panel {
	t.Helper()
	scale := testScale(t)
	grades := []string{"A", "B", "C"}
	rng := rand.New(rand.NewSource(42))

	var records []models.ObservationRecord
	for i := 0; i < n; i++ {
		entity := fmt.Sprintf("obligor-%03d", i)
		g := rng.Intn(3)
		for period := 0; period < 4; period++ {
			records = append(records, obs(entity, period, grades[g]))
			switch r := rng.Float64(); {
			case r < 0.10 && g < 2:
				g++ // downgrade
			case r < 0.15 && g > 0:
				g-- // upgrade
			}
		}
	}
	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)
	return p
}

func dominanceStat(p *Panel) (float64, error) {
	m, err := BuildCounts(p, AllPairs(), BuilderConfig{})
	if err != nil {
		return 0, err
	}
	return DiagonalDominance(m.Normalize())
}

func TestBootstrapDeterministicBySeed(t *testing.T) {
	p := syntheticPanel(t, 200)
	cfg := ResampleConfig{Draws: 500, Seed: 7, Confidence: 0.95}

	r1, err := Bootstrap(context.Background(), p, cfg, dominanceStat)
	require.NoError(t, err)
	r2, err := Bootstrap(context.Background(), p, cfg, dominanceStat)
	require.NoError(t, err)

	assert.Equal(t, r1.Stats, r2.Stats, "identical seed and input reproduce the distribution")
	assert.Equal(t, r1.Lower, r2.Lower)
	assert.Equal(t, r1.Upper, r2.Upper)
}

func TestBootstrapSeedSensitivityWithinBand(t *testing.T) {
	p := syntheticPanel(t, 200)

	widths := make([]float64, 0, 3)
	var intervals [][2]float64
	for _, seed := range []int64{1, 2, 3} {
		r, err := Bootstrap(context.Background(), p, ResampleConfig{Draws: 500, Seed: seed}, dominanceStat)
		require.NoError(t, err)
		widths = append(widths, r.Upper-r.Lower)
		intervals = append(intervals, [2]float64{r.Lower, r.Upper})
	}

	assert.NotEqual(t, intervals[0], intervals[1], "different seeds move the interval")
	for _, w := range widths {
		assert.Greater(t, w, 0.0)
	}
	// interval width is a property of the method, not the seed
	for i := 1; i < len(widths); i++ {
		assert.InDelta(t, widths[0], widths[i], 0.05)
	}
}

func TestBootstrapInsufficientObligors(t *testing.T) {
	p := syntheticPanel(t, 10)
	called := false
	statFn := func(*Panel) (float64, error) { called = true; return 0, nil }

	_, err := Bootstrap(context.Background(), p, ResampleConfig{MinObligors: 30}, statFn)
	require.Error(t, err)
	var ins *InsufficientObligorsError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, 10, ins.Have)
	assert.Equal(t, 30, ins.Min)
	assert.False(t, called, "checked before any resampling is attempted")
}

func TestBootstrapFailsFastOnDrawError(t *testing.T) {
	p := syntheticPanel(t, 50)
	boom := fmt.Errorf("degenerate draw")
	statFn := func(*Panel) (float64, error) { return 0, boom }

	_, err := Bootstrap(context.Background(), p, ResampleConfig{Draws: 20}, statFn)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBootstrapEmpiricalPValue(t *testing.T) {
	p := syntheticPanel(t, 100)
	ref := 0.0 // far below any plausible diagonal dominance
	r, err := Bootstrap(context.Background(), p, ResampleConfig{Draws: 200, Seed: 5, Reference: &ref}, dominanceStat)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(r.PValue))
	assert.LessOrEqual(t, r.PValue, 0.05, "reference far outside the distribution")

	// without a reference the p-value is NaN by contract
	r2, err := Bootstrap(context.Background(), p, ResampleConfig{Draws: 50, Seed: 5}, dominanceStat)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(r2.PValue))
}

func TestBootstrapHonorsCancellation(t *testing.T) {
	p := syntheticPanel(t, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Bootstrap(ctx, p, ResampleConfig{Draws: 1000}, dominanceStat)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
