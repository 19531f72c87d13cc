package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRatingScale(t *testing.T) {
	tests := []struct {
		name      string
		grades    []string
		absorbing []string
		wantErr   bool
	}{
		{"valid with absorbing", []string{"AAA", "AA", "A", "BBB"}, []string{"D", "W"}, false},
		{"valid without absorbing", []string{"A", "B"}, nil, false},
		{"single grade", []string{"A"}, []string{"D"}, true},
		{"duplicate grade", []string{"A", "B", "A"}, nil, true},
		{"absorbing overlaps grades", []string{"A", "B", "C"}, []string{"B"}, true},
		{"duplicate absorbing", []string{"A", "B"}, []string{"D", "D"}, true},
		{"empty grade", []string{"A", ""}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewRatingScale(tt.grades, tt.absorbing)
			if tt.wantErr {
				require.Error(t, err)
				var ise *InvalidScaleError
				assert.ErrorAs(t, err, &ise)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.grades)+len(tt.absorbing), s.Size())
		})
	}
}

func TestRatingScaleRankAndDistance(t *testing.T) {
	s, err := NewRatingScale([]string{"AAA", "AA", "A", "BBB"}, []string{"D"})
	require.NoError(t, err)

	r, ok := s.Rank("AA")
	require.True(t, ok)
	assert.Equal(t, 1, r)

	// absorbing states are ranked separately and excluded from rank arithmetic
	_, ok = s.Rank("D")
	assert.False(t, ok)
	assert.True(t, s.IsAbsorbing("D"))
	assert.False(t, s.IsAbsorbing("AAA"))

	d, err := s.Distance("AAA", "BBB")
	require.NoError(t, err)
	assert.Equal(t, 3, d) // downgrade

	d, err = s.Distance("BBB", "AA")
	require.NoError(t, err)
	assert.Equal(t, -2, d) // upgrade

	_, err = s.Distance("AAA", "D")
	assert.Error(t, err)
}

func TestRatingScaleAxisOrder(t *testing.T) {
	s, err := NewRatingScale([]string{"A", "B", "C"}, []string{"D", "W"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "D", "W"}, s.All())

	i, ok := s.Index("W")
	require.True(t, ok)
	assert.Equal(t, 4, i)
	assert.False(t, s.Has("X"))
}
