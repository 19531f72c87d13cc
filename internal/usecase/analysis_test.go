package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RatingFlow/internal/domain/models"
	"RatingFlow/internal/engine"
	icache "RatingFlow/internal/service/cache"
)

type fakePanelStore struct {
	mu      sync.Mutex
	records []models.ObservationRecord
	queries int
	err     error
}

func (f *fakePanelStore) Init(ctx context.Context) error                      { return nil }
func (f *fakePanelStore) Store(ctx context.Context, r *models.ObservationRecord) error { return nil }
func (f *fakePanelStore) StoreBatch(ctx context.Context, rs []*models.ObservationRecord) error {
	return nil
}
func (f *fakePanelStore) Health(ctx context.Context) error { return f.err }
func (f *fakePanelStore) Close() error                     { return nil }

func (f *fakePanelStore) QueryCohort(ctx context.Context, cohort string, from, to int) ([]models.ObservationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	errors   map[string]int
	analyses map[string]int
	draws    int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: map[string]int{}, analyses: map[string]int{}}
}

func (f *fakeMetrics) RecordObservation(backend, cohort string) {}
func (f *fakeMetrics) RecordLatency(op string, s float64)       {}

func (f *fakeMetrics) RecordAnalysis(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses[kind]++
}

func (f *fakeMetrics) RecordDraws(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draws += n
}

func (f *fakeMetrics) RecordError(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[kind]++
}

// testRecords is an 8-obligor panel over periods 0..2 on the A/B/C scale.
func testRecords(cohort string) []models.ObservationRecord {
	histories := map[string][3]string{
		"e1": {"A", "A", "A"},
		"e2": {"A", "B", "B"},
		"e3": {"B", "B", "C"},
		"e4": {"B", "A", "B"},
		"e5": {"C", "C", "C"},
		"e6": {"C", "B", "A"},
		"e7": {"A", "A", "B"},
		"e8": {"B", "C", "C"},
	}
	var out []models.ObservationRecord
	for entity, grades := range histories {
		for period, grade := range grades {
			out = append(out, models.ObservationRecord{
				EntityID: entity,
				Period:   period,
				Grade:    grade,
				Cohort:   cohort,
			})
		}
	}
	return out
}

func testScale(t *testing.T) *engine.RatingScale {
	t.Helper()
	s, err := engine.NewRatingScale([]string{"A", "B", "C"}, nil)
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T, store *fakePanelStore) (*AnalysisService, *fakeMetrics) {
	t.Helper()
	m := newFakeMetrics()
	svc := NewAnalysisService(store, m, testScale(t), AnalysisDefaults{
		MinObligors: 4,
		Workers:     2,
		CacheTTL:    time.Minute,
	})
	return svc, m
}

func TestAnalyzeProducesFullSuite(t *testing.T) {
	svc, m := newTestService(t, &fakePanelStore{})

	report, err := svc.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:      testRecords(""),
		BasePeriod:   0,
		TargetPeriod: 1,
		Duplicates:   "keep-latest",
		GapPolicy:    "strict",
		Draws:        0,
		Confidence:   0.95,
		Alpha:        0.05,
	})
	require.NoError(t, err)
	require.NotNil(t, report.Base)
	require.NotNil(t, report.Current)

	want := []string{"psi", "chi_square", "diagonal_dominance", "mobility_index", "upgrade_rate", "downgrade_rate"}
	require.Len(t, report.Results, len(want))
	for i, res := range report.Results {
		assert.Equal(t, want[i], res.Name)
	}

	for _, res := range report.Results {
		if res.Name == "chi_square" {
			assert.False(t, math.IsNaN(res.PValue), "chi_square carries an analytic p-value")
			assert.GreaterOrEqual(t, res.PValue, 0.0)
			assert.LessOrEqual(t, res.PValue, 1.0)
			continue
		}
		// no draws requested, so no intervals
		assert.True(t, math.IsNaN(res.CILower), "%s lower bound", res.Name)
		assert.True(t, math.IsNaN(res.CIUpper), "%s upper bound", res.Name)
	}
	assert.Equal(t, 1, m.analyses["analyze"])
}

func TestAnalyzeBootstrapIntervals(t *testing.T) {
	svc, m := newTestService(t, &fakePanelStore{})

	report, err := svc.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:      testRecords(""),
		BasePeriod:   0,
		TargetPeriod: 1,
		Duplicates:   "keep-latest",
		GapPolicy:    "strict",
		Draws:        50,
		Seed:         7,
		Confidence:   0.9,
		Alpha:        0.05,
	})
	require.NoError(t, err)

	for _, res := range report.Results {
		if res.Name == "chi_square" {
			continue
		}
		require.False(t, math.IsNaN(res.CILower), "%s lower bound", res.Name)
		require.False(t, math.IsNaN(res.CIUpper), "%s upper bound", res.Name)
		assert.LessOrEqual(t, res.CILower, res.CIUpper, res.Name)
	}
	assert.Greater(t, m.draws, 0)
}

func TestAnalyzeDeterministicUnderSeed(t *testing.T) {
	svc, _ := newTestService(t, &fakePanelStore{})

	req := func() *models.AnalyzeRequest {
		return &models.AnalyzeRequest{
			Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
			Records:      testRecords(""),
			BasePeriod:   0,
			TargetPeriod: 1,
			Duplicates:   "keep-latest",
			GapPolicy:    "strict",
			Draws:        30,
			Seed:         42,
			Confidence:   0.95,
			Alpha:        0.05,
		}
	}

	first, err := svc.Analyze(context.Background(), req())
	require.NoError(t, err)
	second, err := svc.Analyze(context.Background(), req())
	require.NoError(t, err)

	require.Len(t, second.Results, len(first.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].Value, second.Results[i].Value, first.Results[i].Name)
		assert.Equal(t, first.Results[i].CILower, second.Results[i].CILower, first.Results[i].Name)
		assert.Equal(t, first.Results[i].CIUpper, second.Results[i].CIUpper, first.Results[i].Name)
	}
}

func TestAnalyzeRejectsUnknownGrade(t *testing.T) {
	svc, m := newTestService(t, &fakePanelStore{})

	records := testRecords("")
	records = append(records, models.ObservationRecord{EntityID: "e9", Period: 0, Grade: "ZZ"})

	_, err := svc.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:      models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:    records,
		Duplicates: "keep-latest",
		GapPolicy:  "strict",
	})
	require.Error(t, err)
	var unknown *engine.UnknownGradeError
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, 1, m.errors["analyze_normalize"])
}

func TestAnalyzeInsufficientObligors(t *testing.T) {
	m := newFakeMetrics()
	svc := NewAnalysisService(&fakePanelStore{}, m, testScale(t), AnalysisDefaults{
		MinObligors: 100,
		Workers:     2,
	})

	_, err := svc.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:      testRecords(""),
		BasePeriod:   0,
		TargetPeriod: 1,
		Duplicates:   "keep-latest",
		GapPolicy:    "strict",
		Draws:        10,
	})
	require.Error(t, err)
	var insufficient *engine.InsufficientObligorsError
	assert.True(t, errors.As(err, &insufficient))
}

func TestStabilityUsesStoreAndCache(t *testing.T) {
	store := &fakePanelStore{records: testRecords("corporate")}
	svc, m := newTestService(t, store)
	svc.SetCache(icache.NewTTLCache())

	req := &models.StabilityRequest{
		Cohort:       "corporate",
		BasePeriod:   0,
		TargetPeriod: 1,
		Draws:        0,
		Confidence:   0.95,
		Alpha:        0.05,
	}

	report, err := svc.Stability(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "corporate", report.Cohort)
	assert.Len(t, report.Results, 6)
	assert.Equal(t, 1, store.queries)

	// second identical request is served from the response cache
	again, err := svc.Stability(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, report.Cohort, again.Cohort)
	assert.Equal(t, 1, store.queries)
	assert.Equal(t, 1, m.analyses["stability"])
}

func TestStabilityEmptyCohort(t *testing.T) {
	svc, _ := newTestService(t, &fakePanelStore{})

	_, err := svc.Stability(context.Background(), &models.StabilityRequest{
		Cohort:       "ghost",
		BasePeriod:   0,
		TargetPeriod: 1,
	})
	require.Error(t, err)
	var empty *engine.EmptyCohortError
	assert.True(t, errors.As(err, &empty))
}

func TestMatrixFormsAndCaching(t *testing.T) {
	store := &fakePanelStore{records: testRecords("corporate")}
	svc, _ := newTestService(t, store)
	svc.SetCache(icache.NewTTLCache())

	counts, err := svc.Matrix(context.Background(), &models.MatrixRequest{
		Cohort:     "corporate",
		Period:     -1,
		Duplicates: "keep-latest",
		GapPolicy:  "strict",
		Form:       "counts",
	})
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.NotEmpty(t, counts[0].Counts)
	assert.Empty(t, counts[0].Probs)

	probs, err := svc.Matrix(context.Background(), &models.MatrixRequest{
		Cohort:     "corporate",
		Period:     -1,
		Duplicates: "keep-latest",
		GapPolicy:  "strict",
		Form:       "probs",
	})
	require.NoError(t, err)
	require.Len(t, probs, 1)
	assert.NotEmpty(t, probs[0].Probs)
	for _, row := range probs[0].Probs {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	queriesBefore := store.queries
	_, err = svc.Matrix(context.Background(), &models.MatrixRequest{
		Cohort:     "corporate",
		Period:     -1,
		Duplicates: "keep-latest",
		GapPolicy:  "strict",
		Form:       "probs",
	})
	require.NoError(t, err)
	assert.Equal(t, queriesBefore, store.queries, "cached response skips the store")
}

func TestConfigDefaultsApplied(t *testing.T) {
	m := newFakeMetrics()
	configured := NewAnalysisService(&fakePanelStore{}, m, testScale(t), AnalysisDefaults{
		DuplicatePolicy: "keep-latest",
		GapPolicy:       "strict",
		Epsilon:         0.001,
		Draws:           25,
		Seed:            9,
		Confidence:      0.9,
		Alpha:           0.1,
		MinObligors:     4,
		Workers:         2,
	})

	// request leaves every policy and resampling field unset
	got, err := configured.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:      testRecords(""),
		BasePeriod:   0,
		TargetPeriod: 1,
	})
	require.NoError(t, err)

	// same run with everything spelled out on a service without defaults
	explicit := NewAnalysisService(&fakePanelStore{}, newFakeMetrics(), testScale(t), AnalysisDefaults{
		MinObligors: 4,
		Workers:     2,
	})
	want, err := explicit.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:      testRecords(""),
		BasePeriod:   0,
		TargetPeriod: 1,
		Duplicates:   "keep-latest",
		GapPolicy:    "strict",
		Epsilon:      0.001,
		Draws:        25,
		Seed:         9,
		Confidence:   0.9,
		Alpha:        0.1,
	})
	require.NoError(t, err)

	require.Len(t, got.Results, len(want.Results))
	for i := range want.Results {
		assert.Equal(t, want.Results[i].Name, got.Results[i].Name)
		assert.Equal(t, want.Results[i].Value, got.Results[i].Value, want.Results[i].Name)
		assert.Equal(t, want.Results[i].CILower, got.Results[i].CILower, want.Results[i].Name)
		assert.Equal(t, want.Results[i].CIUpper, got.Results[i].CIUpper, want.Results[i].Name)
		assert.Equal(t, 0.9, got.Results[i].Confidence)
		assert.Equal(t, 0.1, got.Results[i].Alpha)
	}
	for _, res := range got.Results {
		if res.Name == "chi_square" {
			continue
		}
		assert.False(t, math.IsNaN(res.CILower), "%s interval comes from the configured draw count", res.Name)
	}
	assert.Equal(t, 25*5, m.draws)
}

func TestConfigDuplicatePolicyFallback(t *testing.T) {
	records := append(testRecords(""), models.ObservationRecord{EntityID: "e1", Period: 0, Grade: "B"})
	svc := NewAnalysisService(&fakePanelStore{}, newFakeMetrics(), testScale(t), AnalysisDefaults{
		DuplicatePolicy: "fail",
		MinObligors:     4,
		Workers:         2,
	})

	_, err := svc.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:      records,
		BasePeriod:   0,
		TargetPeriod: 1,
	})
	require.Error(t, err)
	var dup *engine.DuplicateObservationError
	assert.True(t, errors.As(err, &dup))

	// an explicit request policy overrides the configured fallback
	report, err := svc.Analyze(context.Background(), &models.AnalyzeRequest{
		Scale:        models.ScaleSpec{Grades: []string{"A", "B", "C"}},
		Records:      records,
		BasePeriod:   0,
		TargetPeriod: 1,
		Duplicates:   "keep-latest",
	})
	require.NoError(t, err)
	assert.Len(t, report.Results, 6)
}

func TestHealthDelegatesToStore(t *testing.T) {
	healthy := &fakePanelStore{}
	svc, _ := newTestService(t, healthy)
	assert.NoError(t, svc.Health(context.Background()))

	broken := &fakePanelStore{err: errors.New("connection refused")}
	svc, _ = newTestService(t, broken)
	assert.Error(t, svc.Health(context.Background()))
}
