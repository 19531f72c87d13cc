package engine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultEpsilon is the floor applied to zero cells in divergence metrics so
// matched-zero cells contribute instead of tripping a log singularity.
const DefaultEpsilon = 1e-4

// PSIConfig holds stability-index policy.
type PSIConfig struct {
	Epsilon     float64 // floor for zero cells, DefaultEpsilon when unset
	RowWeighted bool    // weight rows by base-row support instead of summing
}

// PSI computes the matrix-form population stability index between a base and
// a current probability matrix: per row, sum of (p-q)*ln(p/q) over matched
// non-absorbing columns, aggregated across rows. Rows undefined in either
// matrix carry no distribution and are excluded; zero cells inside included
// rows are floored at epsilon, never skipped.
func PSI(base, current *TransitionMatrix, cfg PSIConfig) (float64, error) {
	if err := checkComparable(base, current); err != nil {
		return 0, err
	}
	eps := cfg.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}

	scale := base.scale
	k := scale.NumGrades()
	var index, totalWeight float64
	rowPSI := make([]float64, 0, k)
	rowW := make([]float64, 0, k)

	for i := 0; i < k; i++ {
		if base.RowUndefined(i) || current.RowUndefined(i) {
			continue
		}
		var v float64
		for j := 0; j < k; j++ {
			p := math.Max(base.Cell(i, j), eps)
			q := math.Max(current.Cell(i, j), eps)
			v += (p - q) * math.Log(p/q)
		}
		rowPSI = append(rowPSI, v)
		rowW = append(rowW, base.RowSum(i))
	}
	if len(rowPSI) == 0 {
		return 0, &IllDefinedMatrixError{Row: "all"}
	}

	if cfg.RowWeighted {
		for _, w := range rowW {
			totalWeight += w
		}
		if totalWeight == 0 {
			// no exposure recorded; fall back to a plain mean
			totalWeight = float64(len(rowPSI))
			for i := range rowW {
				rowW[i] = 1
			}
		}
		for i, v := range rowPSI {
			index += v * rowW[i] / totalWeight
		}
		return index, nil
	}
	for _, v := range rowPSI {
		index += v
	}
	return index, nil
}

// DiagonalDominance is the mean fraction of probability mass staying in the
// same grade across non-absorbing rows. Fails when any such row is undefined.
func DiagonalDominance(m *TransitionMatrix) (float64, error) {
	if !m.isProb {
		return 0, fmt.Errorf("diagonal dominance needs a probability matrix")
	}
	k := m.scale.NumGrades()
	var sum float64
	for i := 0; i < k; i++ {
		if m.RowUndefined(i) {
			return 0, &IllDefinedMatrixError{Row: m.grades[i]}
		}
		sum += m.Cell(i, i)
	}
	return sum / float64(k), nil
}

// MobilityIndex is one minus the second-largest eigenvalue modulus of the
// non-absorbing block of the probability matrix. Identity (no migration)
// scores 0; the index grows toward 1 as off-diagonal mass increases.
func MobilityIndex(m *TransitionMatrix) (float64, error) {
	if !m.isProb {
		return 0, fmt.Errorf("mobility index needs a probability matrix")
	}
	k := m.scale.NumGrades()
	q := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		if m.RowUndefined(i) {
			return 0, &IllDefinedMatrixError{Row: m.grades[i]}
		}
		for j := 0; j < k; j++ {
			q.Set(i, j, m.Cell(i, j))
		}
	}

	var eig mat.Eigen
	if ok := eig.Factorize(q, mat.EigenNone); !ok {
		return 0, fmt.Errorf("eigen factorization failed")
	}
	values := eig.Values(nil)
	mods := make([]float64, len(values))
	for i, v := range values {
		mods[i] = math.Hypot(real(v), imag(v))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(mods)))
	return 1 - mods[1], nil
}

// UpgradeDowngrade splits the off-diagonal probability mass of non-absorbing
// rows by grade-order direction: mass moving to a better rank vs a worse one,
// averaged across rows. Transitions into absorbing states count as downgrades.
func UpgradeDowngrade(m *TransitionMatrix) (up, down float64, err error) {
	if !m.isProb {
		return 0, 0, fmt.Errorf("directionality needs a probability matrix")
	}
	k := m.scale.NumGrades()
	n := m.Dim()
	for i := 0; i < k; i++ {
		if m.RowUndefined(i) {
			return 0, 0, &IllDefinedMatrixError{Row: m.grades[i]}
		}
		for j := 0; j < n; j++ {
			switch {
			case j == i:
			case j >= k || j > i: // absorbing column or worse rank
				down += m.Cell(i, j)
			default:
				up += m.Cell(i, j)
			}
		}
	}
	return up / float64(k), down / float64(k), nil
}

// DistanceResult is the outcome of the chi-square matrix distance test.
type DistanceResult struct {
	Stat   float64
	DF     float64
	PValue float64
}

// ChiSquareDistance compares observed transition counts in the current
// period against expected counts from applying the base-period probability
// matrix to the current starting-grade distribution. Zero expected cells are
// floored at epsilon rather than dropped.
func ChiSquareDistance(base, current *TransitionMatrix, epsilon float64) (DistanceResult, error) {
	if !base.isProb {
		return DistanceResult{}, fmt.Errorf("chi-square distance needs a base probability matrix")
	}
	if current.isProb {
		return DistanceResult{}, fmt.Errorf("chi-square distance needs current counts, not probabilities")
	}
	if err := sameAxis(base, current); err != nil {
		return DistanceResult{}, err
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}

	scale := base.scale
	k := scale.NumGrades()
	n := base.Dim()

	reachable := make([]bool, n)
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			if base.Cell(i, j) > 0 || current.Cell(i, j) > 0 {
				reachable[j] = true
			}
		}
	}
	numReachable := 0
	for _, r := range reachable {
		if r {
			numReachable++
		}
	}
	if numReachable < 2 {
		return DistanceResult{}, &IllDefinedMatrixError{Row: "all"}
	}

	var stat float64
	for i := 0; i < k; i++ {
		ni := current.RowSum(i)
		if ni == 0 || base.RowUndefined(i) {
			continue
		}
		for j := 0; j < n; j++ {
			if !reachable[j] {
				continue
			}
			expected := math.Max(ni*base.Cell(i, j), epsilon)
			observed := current.Cell(i, j)
			d := observed - expected
			stat += d * d / expected
		}
	}

	df := float64(k * (numReachable - 1))
	dist := distuv.ChiSquared{K: df}
	return DistanceResult{Stat: stat, DF: df, PValue: dist.Survival(stat)}, nil
}

// MonotonicityZ runs per-cell z-tests of the convention that migration
// probabilities decay monotonically away from the diagonal. Each off-diagonal
// cell is compared against its neighbor one step closer to the diagonal;
// returned p-values are the normal CDF of z. Diagonal and absorbing cells
// carry NaN.
func MonotonicityZ(counts *TransitionMatrix) (z, p [][]float64, err error) {
	if counts.isProb {
		return nil, nil, fmt.Errorf("monotonicity test needs a count matrix")
	}
	scale := counts.scale
	k := scale.NumGrades()
	norm := distuv.Normal{Mu: 0, Sigma: 1}

	z = make([][]float64, k)
	p = make([][]float64, k)
	for i := 0; i < k; i++ {
		z[i] = make([]float64, k)
		p[i] = make([]float64, k)
		ni := counts.RowSum(i)
		for j := 0; j < k; j++ {
			z[i][j] = math.NaN()
			p[i][j] = math.NaN()
			if i == j || ni == 0 {
				continue
			}
			adj := j + 1
			if i < j {
				adj = j - 1
			}
			pij := counts.Cell(i, j) / ni
			padj := counts.Cell(i, adj) / ni
			den := pij*(1-pij)/ni + padj*(1-padj)/ni + 2*pij*padj/ni
			if den <= 0 {
				continue
			}
			z[i][j] = (padj - pij) / math.Sqrt(den)
			p[i][j] = norm.CDF(z[i][j])
		}
	}
	return z, p, nil
}

func checkComparable(a, b *TransitionMatrix) error {
	if !a.isProb || !b.isProb {
		return fmt.Errorf("stability index needs probability matrices")
	}
	return sameAxis(a, b)
}

func sameAxis(a, b *TransitionMatrix) error {
	if a.Dim() != b.Dim() {
		return fmt.Errorf("matrix dimensions differ: %d vs %d", a.Dim(), b.Dim())
	}
	for i, g := range a.grades {
		if b.grades[i] != g {
			return fmt.Errorf("matrix axes differ at %d: %q vs %q", i, g, b.grades[i])
		}
	}
	return nil
}
