package models

// Requests for analysis HTTP endpoints. Defined in domain for consistency and reuse.

// ScaleSpec configures the rating scale for a request.
type ScaleSpec struct {
	Grades    []string `json:"grades" validate:"required,min=2"`
	Absorbing []string `json:"absorbing"`
}

// AnalyzeRequest runs the full pipeline on an inline panel. Policy and
// resampling fields left unset fall back to the configured analysis defaults.
type AnalyzeRequest struct {
	Scale        ScaleSpec           `json:"scale" validate:"required"`
	Records      []ObservationRecord `json:"records" validate:"required,min=1,dive"`
	BasePeriod   int                 `json:"base_period" validate:"gte=0"`
	TargetPeriod int                 `json:"target_period" default:"-1"`
	Duplicates   string              `json:"duplicates" validate:"omitempty,oneof=keep-latest fail"`
	GapPolicy    string              `json:"gap_policy" validate:"omitempty,oneof=strict allow-multi-period"`
	Epsilon      float64             `json:"epsilon" validate:"omitempty,gt=0"`
	Draws        int                 `json:"draws" validate:"gte=0,lte=100000"`
	Seed         int64               `json:"seed"`
	Confidence   float64             `json:"confidence" validate:"omitempty,gt=0,lt=1"`
	Alpha        float64             `json:"alpha" validate:"omitempty,gt=0,lt=1"`
}

// ObservationsRequest ingests a batch of observation records.
type ObservationsRequest struct {
	Cohort  string              `json:"cohort" validate:"required"`
	Records []ObservationRecord `json:"records" validate:"required,min=1,dive"`
}

// MatrixRequest builds a transition matrix from a stored cohort. Period is
// set by the handler from the raw query string so an explicit period 0 is
// distinguishable from an omitted one (which selects all pairs).
type MatrixRequest struct {
	Cohort     string `query:"cohort" json:"cohort" validate:"required"`
	Period     int    `json:"period"`
	Duplicates string `query:"duplicates" json:"duplicates" validate:"omitempty,oneof=keep-latest fail"`
	GapPolicy  string `query:"gap_policy" json:"gap_policy" validate:"omitempty,oneof=strict allow-multi-period"`
	Form       string `query:"form" json:"form" default:"probs" validate:"oneof=counts probs"`
}

// StabilityRequest compares two stored period ranges of one cohort. Unset
// resampling fields fall back to the configured analysis defaults.
type StabilityRequest struct {
	Cohort       string  `query:"cohort" json:"cohort" validate:"required"`
	BasePeriod   int     `query:"base_period" json:"base_period" validate:"gte=0"`
	TargetPeriod int     `query:"target_period" json:"target_period" validate:"gte=0"`
	Epsilon      float64 `query:"epsilon" json:"epsilon" validate:"omitempty,gt=0"`
	Draws        int     `query:"draws" json:"draws" validate:"gte=0,lte=100000"`
	Seed         int64   `query:"seed" json:"seed"`
	Confidence   float64 `query:"confidence" json:"confidence" validate:"omitempty,gt=0,lt=1"`
	Alpha        float64 `query:"alpha" json:"alpha" validate:"omitempty,gt=0,lt=1"`
}

// JobParams configures an async stability run. The cohort comes from the
// enclosing JobRequest rather than being repeated here.
type JobParams struct {
	BasePeriod   int     `json:"base_period" validate:"gte=0"`
	TargetPeriod int     `json:"target_period" validate:"gte=0"`
	Epsilon      float64 `json:"epsilon" validate:"omitempty,gt=0"`
	Draws        int     `json:"draws" validate:"gte=0,lte=100000"`
	Seed         int64   `json:"seed"`
	Confidence   float64 `json:"confidence" validate:"omitempty,gt=0,lt=1"`
	Alpha        float64 `json:"alpha" validate:"omitempty,gt=0,lt=1"`
}

// Stability expands the params into a full request for the given cohort.
func (p JobParams) Stability(cohort string) StabilityRequest {
	return StabilityRequest{
		Cohort:       cohort,
		BasePeriod:   p.BasePeriod,
		TargetPeriod: p.TargetPeriod,
		Epsilon:      p.Epsilon,
		Draws:        p.Draws,
		Seed:         p.Seed,
		Confidence:   p.Confidence,
		Alpha:        p.Alpha,
	}
}

// JobRequest enqueues an async analysis run for a stored cohort.
type JobRequest struct {
	Cohort string    `json:"cohort" validate:"required"`
	Params JobParams `json:"params"`
}

// JobStatus reports the state of an async analysis job.
type JobStatus struct {
	ID     string           `json:"id"`
	State  string           `json:"state"` // queued | running | done | failed
	Error  string           `json:"error,omitempty"`
	Report *StabilityReport `json:"report,omitempty"`
}
