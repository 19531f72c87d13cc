package models

// ObservationRecord is a single rating observation for one obligor in one
// period. Records are immutable once ingested; Weight carries exposure and
// defaults to 1.0 when the source supplies none.
type ObservationRecord struct {
	EntityID string  `json:"entity_id" validate:"required"`
	Period   int     `json:"period" validate:"gte=0"`
	Grade    string  `json:"grade" validate:"required"`
	Weight   float64 `json:"weight,omitempty" validate:"gte=0"`
	Cohort   string  `json:"cohort,omitempty"`
}

// EffectiveWeight returns the record weight, substituting the 1.0 default
// for unset (zero) weights.
func (r *ObservationRecord) EffectiveWeight() float64 {
	if r.Weight == 0 {
		return 1.0
	}
	return r.Weight
}

// Valid reports whether the record can enter the pipeline at all.
func (r *ObservationRecord) Valid() bool {
	return r.EntityID != "" && r.Grade != "" && r.Weight >= 0 && r.Period >= 0
}
