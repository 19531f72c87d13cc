package engine

// RatingScale is an ordered, closed set of rating grades plus designated
// absorbing states (default, withdrawn). Grade order is a strict total order
// used for upgrade/downgrade directionality; absorbing states are ranked
// separately and excluded from rank arithmetic.
type RatingScale struct {
	grades    []string
	absorbing []string
	rank      map[string]int // ordered grades only
	index     map[string]int // position on the matrix axis (grades then absorbing)
}

// NewRatingScale validates the grade ordering and absorbing set.
func NewRatingScale(grades, absorbing []string) (*RatingScale, error) {
	if len(grades) < 2 {
		return nil, &InvalidScaleError{Reason: "fewer than 2 ordered grades"}
	}
	s := &RatingScale{
		grades:    append([]string(nil), grades...),
		absorbing: append([]string(nil), absorbing...),
		rank:      make(map[string]int, len(grades)),
		index:     make(map[string]int, len(grades)+len(absorbing)),
	}
	for i, g := range s.grades {
		if g == "" {
			return nil, &InvalidScaleError{Grade: g, Reason: "empty grade identifier"}
		}
		if _, dup := s.rank[g]; dup {
			return nil, &InvalidScaleError{Grade: g, Reason: "duplicate grade"}
		}
		s.rank[g] = i
		s.index[g] = i
	}
	for i, a := range s.absorbing {
		if a == "" {
			return nil, &InvalidScaleError{Grade: a, Reason: "empty absorbing identifier"}
		}
		if _, clash := s.rank[a]; clash {
			return nil, &InvalidScaleError{Grade: a, Reason: "absorbing state overlaps ordered grades"}
		}
		if _, dup := s.index[a]; dup {
			return nil, &InvalidScaleError{Grade: a, Reason: "duplicate absorbing state"}
		}
		s.index[a] = len(s.grades) + i
	}
	return s, nil
}

// Grades returns the ordered non-absorbing grades.
func (s *RatingScale) Grades() []string { return append([]string(nil), s.grades...) }

// Absorbing returns the absorbing state identifiers.
func (s *RatingScale) Absorbing() []string { return append([]string(nil), s.absorbing...) }

// All returns the full matrix axis: ordered grades followed by absorbing states.
func (s *RatingScale) All() []string {
	out := make([]string, 0, len(s.grades)+len(s.absorbing))
	out = append(out, s.grades...)
	return append(out, s.absorbing...)
}

// Size is the matrix dimension (ordered grades plus absorbing states).
func (s *RatingScale) Size() int { return len(s.grades) + len(s.absorbing) }

// NumGrades is the count of non-absorbing grades.
func (s *RatingScale) NumGrades() int { return len(s.grades) }

// Has reports whether g is any grade on the scale, absorbing included.
func (s *RatingScale) Has(g string) bool {
	_, ok := s.index[g]
	return ok
}

// IsAbsorbing reports whether g is an absorbing state.
func (s *RatingScale) IsAbsorbing(g string) bool {
	i, ok := s.index[g]
	return ok && i >= len(s.grades)
}

// Rank returns the position of g in the grade order. Absorbing states and
// unknown grades report ok=false.
func (s *RatingScale) Rank(g string) (int, bool) {
	r, ok := s.rank[g]
	return r, ok
}

// Index returns the position of g on the matrix axis, absorbing included.
func (s *RatingScale) Index(g string) (int, bool) {
	i, ok := s.index[g]
	return i, ok
}

// Distance is the signed rank difference rank(g2) - rank(g1). Positive means
// a downgrade when the scale runs best to worst. Absorbing states have no
// rank and yield an error.
func (s *RatingScale) Distance(g1, g2 string) (int, error) {
	r1, ok := s.rank[g1]
	if !ok {
		return 0, &InvalidScaleError{Grade: g1, Reason: "grade has no rank"}
	}
	r2, ok := s.rank[g2]
	if !ok {
		return 0, &InvalidScaleError{Grade: g2, Reason: "grade has no rank"}
	}
	return r2 - r1, nil
}
