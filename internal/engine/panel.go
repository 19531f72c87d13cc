package engine

import (
	"fmt"
	"sort"

	"RatingFlow/internal/domain/models"
)

// DuplicatePolicy controls what happens when one entity has two records for
// the same period.
type DuplicatePolicy int

const (
	// KeepLatest keeps the latest-inserted record (deterministic tie-break).
	KeepLatest DuplicatePolicy = iota
	// FailOnDuplicate rejects the panel.
	FailOnDuplicate
)

// ParseDuplicatePolicy maps the config string form.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "keep-latest":
		return KeepLatest, nil
	case "fail":
		return FailOnDuplicate, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// NormalizerConfig holds panel normalization policy.
type NormalizerConfig struct {
	Duplicates DuplicatePolicy
}

// ObligorHistory is the ordered-by-period grade sequence for one entity.
// Grades[i] holds the grade observed at period Start+i; the empty string
// marks a gap. Weights runs parallel to Grades.
type ObligorHistory struct {
	Entity  string
	Start   int
	Grades  []string
	Weights []float64
}

// At returns the grade observed at the given period, ok=false on gaps and
// periods outside the observed span.
func (h *ObligorHistory) At(period int) (string, bool) {
	i := period - h.Start
	if i < 0 || i >= len(h.Grades) || h.Grades[i] == "" {
		return "", false
	}
	return h.Grades[i], true
}

// End is the last observed period.
func (h *ObligorHistory) End() int { return h.Start + len(h.Grades) - 1 }

// Panel is the normalized obligor-period view of a raw observation set.
// Entities is sorted so every downstream walk is deterministic.
type Panel struct {
	Scale     *RatingScale
	Entities  []string
	Histories map[string]*ObligorHistory
}

// Size is the number of obligors in the panel.
func (p *Panel) Size() int { return len(p.Entities) }

// Normalize converts raw observation records into aligned obligor histories.
// Duplicates are resolved per policy, gaps are marked explicitly, and records
// after an entity's first absorbing period are discarded (an obligor cannot
// leave default or withdrawal).
func Normalize(records []models.ObservationRecord, scale *RatingScale, cfg NormalizerConfig) (*Panel, error) {
	type obs struct {
		grade  string
		weight float64
	}
	byEntity := make(map[string]map[int]obs)

	for i := range records {
		r := &records[i]
		if !r.Valid() {
			return nil, fmt.Errorf("invalid observation record for entity %q period %d", r.EntityID, r.Period)
		}
		if !scale.Has(r.Grade) {
			return nil, &UnknownGradeError{Entity: r.EntityID, Period: r.Period, Grade: r.Grade}
		}
		periods, ok := byEntity[r.EntityID]
		if !ok {
			periods = make(map[int]obs)
			byEntity[r.EntityID] = periods
		}
		if _, dup := periods[r.Period]; dup && cfg.Duplicates == FailOnDuplicate {
			return nil, &DuplicateObservationError{Entity: r.EntityID, Period: r.Period}
		}
		// later-inserted record wins under KeepLatest
		periods[r.Period] = obs{grade: r.Grade, weight: r.EffectiveWeight()}
	}

	p := &Panel{
		Scale:     scale,
		Entities:  make([]string, 0, len(byEntity)),
		Histories: make(map[string]*ObligorHistory, len(byEntity)),
	}
	for e := range byEntity {
		p.Entities = append(p.Entities, e)
	}
	sort.Strings(p.Entities)

	for _, e := range p.Entities {
		periods := byEntity[e]
		keys := make([]int, 0, len(periods))
		for k := range periods {
			keys = append(keys, k)
		}
		sort.Ints(keys)

		// truncate after the first absorbing period
		last := keys[len(keys)-1]
		for _, k := range keys {
			if scale.IsAbsorbing(periods[k].grade) {
				last = k
				break
			}
		}

		start := keys[0]
		h := &ObligorHistory{
			Entity:  e,
			Start:   start,
			Grades:  make([]string, last-start+1),
			Weights: make([]float64, last-start+1),
		}
		for _, k := range keys {
			if k > last {
				break
			}
			o := periods[k]
			h.Grades[k-start] = o.grade
			h.Weights[k-start] = o.weight
		}
		p.Histories[e] = h
	}
	return p, nil
}
