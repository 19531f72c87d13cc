package engine

import "fmt"

// InvalidScaleError reports a rating scale that cannot be used.
type InvalidScaleError struct {
	Grade  string
	Reason string
}

func (e *InvalidScaleError) Error() string {
	if e.Grade != "" {
		return fmt.Sprintf("invalid scale: %s (grade %q)", e.Reason, e.Grade)
	}
	return fmt.Sprintf("invalid scale: %s", e.Reason)
}

// DuplicateObservationError reports two records for one entity/period under
// the fail-on-duplicate policy.
type DuplicateObservationError struct {
	Entity string
	Period int
}

func (e *DuplicateObservationError) Error() string {
	return fmt.Sprintf("duplicate observation for entity %q period %d", e.Entity, e.Period)
}

// UnknownGradeError reports a record whose grade is not on the scale.
type UnknownGradeError struct {
	Entity string
	Period int
	Grade  string
}

func (e *UnknownGradeError) Error() string {
	return fmt.Sprintf("unknown grade %q for entity %q period %d", e.Grade, e.Entity, e.Period)
}

// EmptyCohortError reports a panel with no qualifying transition pairs.
type EmptyCohortError struct {
	Selector string
}

func (e *EmptyCohortError) Error() string {
	return fmt.Sprintf("empty cohort: no transition pairs for selector %s", e.Selector)
}

// IllDefinedMatrixError reports a matrix with undefined rows where a metric
// requires full support.
type IllDefinedMatrixError struct {
	Row string
}

func (e *IllDefinedMatrixError) Error() string {
	return fmt.Sprintf("ill-defined matrix: row %q has no outgoing observations", e.Row)
}

// InsufficientObligorsError reports a panel too small to resample.
type InsufficientObligorsError struct {
	Have int
	Min  int
}

func (e *InsufficientObligorsError) Error() string {
	return fmt.Sprintf("insufficient obligors: have %d, need at least %d", e.Have, e.Min)
}
