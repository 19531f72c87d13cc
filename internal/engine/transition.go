package engine

import (
	"fmt"
	"math"
	"sort"

	"RatingFlow/internal/domain/models"
)

// RowSumTolerance bounds the deviation of probability row sums from 1.
const RowSumTolerance = 1e-9

// WeightScheme selects how a transition pair contributes to the count matrix.
type WeightScheme int

const (
	// EntityWeight counts every transition pair as 1.
	EntityWeight WeightScheme = iota
	// ExposureWeight counts the from-period record weight.
	ExposureWeight
)

// Selector restricts which period pairs the builder aggregates.
// Period < 0 selects all consecutive pairs; Period == k selects k -> k+gap.
type Selector struct {
	Period int
}

// AllPairs selects every consecutive pair in the panel.
func AllPairs() Selector { return Selector{Period: -1} }

func (s Selector) String() string {
	if s.Period < 0 {
		return "all-pairs"
	}
	return fmt.Sprintf("period %d", s.Period)
}

// BuilderConfig holds transition aggregation policy.
type BuilderConfig struct {
	Scheme               WeightScheme
	AllowMultiPeriodGaps bool
}

// TransitionMatrix is a square matrix indexed by the full scale axis
// (ordered grades then absorbing states). Instances are immutable once
// built; Normalize produces a new instance rather than mutating.
type TransitionMatrix struct {
	scale     *RatingScale
	grades    []string
	cells     []float64 // row-major
	rowSums   []float64 // outgoing weight per row, from the count form
	undefined []bool
	isProb    bool
	gapLen    int
}

// Dim is the matrix dimension.
func (m *TransitionMatrix) Dim() int { return len(m.grades) }

// Grades returns the axis labels in order.
func (m *TransitionMatrix) Grades() []string { return append([]string(nil), m.grades...) }

// Scale returns the rating scale the matrix is indexed by.
func (m *TransitionMatrix) Scale() *RatingScale { return m.scale }

// IsProb reports whether cells hold probabilities rather than counts.
func (m *TransitionMatrix) IsProb() bool { return m.isProb }

// GapLength is the period distance the transitions span (1 for single step).
func (m *TransitionMatrix) GapLength() int { return m.gapLen }

// Cell returns the raw cell value at row i, column j.
func (m *TransitionMatrix) Cell(i, j int) float64 { return m.cells[i*len(m.grades)+j] }

// At returns the cell for a (from, to) grade pair.
func (m *TransitionMatrix) At(from, to string) (float64, bool) {
	i, ok := m.scale.Index(from)
	if !ok {
		return 0, false
	}
	j, ok := m.scale.Index(to)
	if !ok {
		return 0, false
	}
	return m.Cell(i, j), true
}

// RowSum is the total outgoing weight of row i in the count form.
func (m *TransitionMatrix) RowSum(i int) float64 { return m.rowSums[i] }

// RowUndefined reports whether row i had zero outgoing observations.
func (m *TransitionMatrix) RowUndefined(i int) bool { return m.undefined[i] }

// UndefinedRows lists the grades whose rows have no outgoing observations.
func (m *TransitionMatrix) UndefinedRows() []string {
	var out []string
	for i, u := range m.undefined {
		if u {
			out = append(out, m.grades[i])
		}
	}
	return out
}

// View converts the matrix into its transport form.
func (m *TransitionMatrix) View() *models.MatrixView {
	n := m.Dim()
	grid := make([][]float64, n)
	for i := 0; i < n; i++ {
		grid[i] = append([]float64(nil), m.cells[i*n:(i+1)*n]...)
	}
	v := &models.MatrixView{Grades: m.Grades(), Undefined: m.UndefinedRows(), GapLength: m.gapLen}
	if m.isProb {
		v.Probs = grid
	} else {
		v.Counts = grid
	}
	return v
}

// Build aggregates weighted transition pairs from the panel into count
// matrices keyed by gap length. Strict gap policy yields only the key 1;
// with multi-period gaps enabled, a pair spanning g periods lands in the
// gap-g matrix. Fails with EmptyCohortError when no pair qualifies.
func Build(p *Panel, sel Selector, cfg BuilderConfig) (map[int]*TransitionMatrix, error) {
	out := make(map[int]*TransitionMatrix)
	n := p.Scale.Size()

	for _, e := range p.Entities {
		h := p.Histories[e]
		prev := -1 // offset of previous observed period
		for off, g := range h.Grades {
			if g == "" {
				continue
			}
			if prev >= 0 {
				gap := off - prev
				if gap == 1 || cfg.AllowMultiPeriodGaps {
					from := h.Grades[prev]
					fromPeriod := h.Start + prev
					if sel.Period < 0 || sel.Period == fromPeriod {
						m, ok := out[gap]
						if !ok {
							m = &TransitionMatrix{
								scale:     p.Scale,
								grades:    p.Scale.All(),
								cells:     make([]float64, n*n),
								rowSums:   make([]float64, n),
								undefined: make([]bool, n),
								gapLen:    gap,
							}
							out[gap] = m
						}
						w := 1.0
						if cfg.Scheme == ExposureWeight {
							w = h.Weights[prev]
						}
						i, _ := p.Scale.Index(from)
						j, _ := p.Scale.Index(g)
						m.cells[i*n+j] += w
						m.rowSums[i] += w
					}
				}
			}
			prev = off
		}
	}

	if len(out) == 0 {
		return nil, &EmptyCohortError{Selector: sel.String()}
	}
	for _, m := range out {
		for i := range m.undefined {
			m.undefined[i] = m.rowSums[i] == 0 && !p.Scale.IsAbsorbing(m.grades[i])
		}
	}
	return out, nil
}

// BuildCounts is the strict single-step form of Build.
func BuildCounts(p *Panel, sel Selector, cfg BuilderConfig) (*TransitionMatrix, error) {
	cfg.AllowMultiPeriodGaps = false
	ms, err := Build(p, sel, cfg)
	if err != nil {
		return nil, err
	}
	return ms[1], nil
}

// Normalize derives the row-stochastic probability form. Rows with zero
// outgoing weight stay flagged undefined instead of being divided; absorbing
// rows are fixed to the identity transition by convention since no outgoing
// transition is observable.
func (m *TransitionMatrix) Normalize() *TransitionMatrix {
	n := m.Dim()
	p := &TransitionMatrix{
		scale:     m.scale,
		grades:    append([]string(nil), m.grades...),
		cells:     make([]float64, n*n),
		rowSums:   append([]float64(nil), m.rowSums...),
		undefined: append([]bool(nil), m.undefined...),
		isProb:    true,
		gapLen:    m.gapLen,
	}
	for i := 0; i < n; i++ {
		switch {
		case m.scale.IsAbsorbing(m.grades[i]):
			p.cells[i*n+i] = 1
			p.undefined[i] = false
		case m.rowSums[i] == 0:
			p.undefined[i] = true
		default:
			for j := 0; j < n; j++ {
				p.cells[i*n+j] = m.cells[i*n+j] / m.rowSums[i]
			}
		}
	}
	return p
}

// MatrixFromProbs builds a probability matrix from explicit rows, mainly for
// reference/benchmark comparisons. Rows must sum to 1 within tolerance; an
// all-zero row is taken as undefined.
func MatrixFromProbs(scale *RatingScale, rows [][]float64) (*TransitionMatrix, error) {
	n := scale.Size()
	if len(rows) != n {
		return nil, fmt.Errorf("probability matrix needs %d rows, got %d", n, len(rows))
	}
	m := &TransitionMatrix{
		scale:     scale,
		grades:    scale.All(),
		cells:     make([]float64, n*n),
		rowSums:   make([]float64, n),
		undefined: make([]bool, n),
		isProb:    true,
		gapLen:    1,
	}
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d needs %d columns, got %d", i, n, len(row))
		}
		sum := 0.0
		for j, v := range row {
			m.cells[i*n+j] = v
			sum += v
		}
		switch {
		case sum == 0:
			m.undefined[i] = true
		case math.Abs(sum-1) > RowSumTolerance:
			return nil, fmt.Errorf("row %d sums to %g, want 1", i, sum)
		default:
			m.rowSums[i] = 1
		}
	}
	return m, nil
}

// GapLengths lists the cohort keys of a Build result in ascending order.
func GapLengths(ms map[int]*TransitionMatrix) []int {
	keys := make([]int, 0, len(ms))
	for k := range ms {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
