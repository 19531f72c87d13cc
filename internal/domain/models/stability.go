package models

// StabilityResult is one named statistic with its resampled variability
// estimate and the decision against the caller's significance level.
type StabilityResult struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	CILower    float64 `json:"ci_lower"`
	CIUpper    float64 `json:"ci_upper"`
	Confidence float64 `json:"confidence"`
	PValue     float64 `json:"p_value"`
	Alpha      float64 `json:"alpha"`
	Reject     bool    `json:"reject"`
}

// MatrixView is the transport form of a transition matrix: grades in axis
// order and a row-major cell grid. Undefined rows carry null probabilities.
type MatrixView struct {
	Grades    []string    `json:"grades"`
	Counts    [][]float64 `json:"counts,omitempty"`
	Probs     [][]float64 `json:"probs,omitempty"`
	Undefined []string    `json:"undefined_rows,omitempty"`
	GapLength int         `json:"gap_length,omitempty"`
}

// StabilityReport bundles everything one analysis run produced.
type StabilityReport struct {
	Cohort  string            `json:"cohort,omitempty"`
	Base    *MatrixView       `json:"base,omitempty"`
	Current *MatrixView       `json:"current,omitempty"`
	Results []StabilityResult `json:"results"`
}
