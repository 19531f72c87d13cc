package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RatingFlow/internal/domain/models"
)

func testScale(t *testing.T) *RatingScale {
	t.Helper()
	s, err := NewRatingScale([]string{"A", "B", "C"}, []string{"D", "W"})
	require.NoError(t, err)
	return s
}

func obs(entity string, period int, grade string) models.ObservationRecord {
	return models.ObservationRecord{EntityID: entity, Period: period, Grade: grade}
}

func TestNormalizeDuplicates(t *testing.T) {
	scale := testScale(t)
	records := []models.ObservationRecord{
		obs("x", 0, "A"),
		obs("x", 0, "B"), // later-inserted record wins under keep-latest
		obs("x", 1, "C"),
	}

	p, err := Normalize(records, scale, NormalizerConfig{Duplicates: KeepLatest})
	require.NoError(t, err)
	g, ok := p.Histories["x"].At(0)
	require.True(t, ok)
	assert.Equal(t, "B", g)

	_, err = Normalize(records, scale, NormalizerConfig{Duplicates: FailOnDuplicate})
	require.Error(t, err)
	var dup *DuplicateObservationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "x", dup.Entity)
	assert.Equal(t, 0, dup.Period)
}

func TestNormalizeGapsAndSpan(t *testing.T) {
	scale := testScale(t)
	records := []models.ObservationRecord{
		obs("x", 2, "A"),
		obs("x", 5, "B"),
	}

	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)
	h := p.Histories["x"]
	assert.Equal(t, 2, h.Start)
	assert.Equal(t, 5, h.End())

	_, ok := h.At(3)
	assert.False(t, ok, "period 3 is a gap")
	_, ok = h.At(4)
	assert.False(t, ok, "period 4 is a gap")
	g, ok := h.At(5)
	require.True(t, ok)
	assert.Equal(t, "B", g)
}

func TestNormalizeAbsorbingTruncation(t *testing.T) {
	scale := testScale(t)
	records := []models.ObservationRecord{
		obs("x", 0, "A"),
		obs("x", 1, "D"),
		obs("x", 2, "B"), // after default; deterministically discarded, not an error
		obs("x", 3, "C"),
	}

	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)
	h := p.Histories["x"]
	assert.Equal(t, 1, h.End())
	g, ok := h.At(1)
	require.True(t, ok)
	assert.Equal(t, "D", g)
}

func TestNormalizeUnknownGrade(t *testing.T) {
	scale := testScale(t)
	_, err := Normalize([]models.ObservationRecord{obs("x", 0, "ZZ")}, scale, NormalizerConfig{})
	require.Error(t, err)
	var ug *UnknownGradeError
	require.ErrorAs(t, err, &ug)
	assert.Equal(t, "ZZ", ug.Grade)
}

func TestNormalizeDeterministicEntityOrder(t *testing.T) {
	scale := testScale(t)
	records := []models.ObservationRecord{
		obs("zeta", 0, "A"), obs("alpha", 0, "B"), obs("mid", 0, "C"),
	}
	p, err := Normalize(records, scale, NormalizerConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, p.Entities)
}
