package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"RatingFlow/internal/domain/models"
	drepo "RatingFlow/internal/domain/repository"
	"RatingFlow/internal/engine"
	icache "RatingFlow/internal/service/cache"
	pcache "RatingFlow/pkg/cache"
	applogger "RatingFlow/pkg/logger"
)

// AnalysisDefaults carries the configured engine defaults and service-level
// limits. Policy and resampling fields act as fallbacks for requests that
// leave them unset.
type AnalysisDefaults struct {
	DuplicatePolicy string
	GapPolicy       string
	Epsilon         float64
	Draws           int
	Seed            int64
	Confidence      float64
	Alpha           float64
	MinObligors     int
	Workers         int
	CacheTTL        time.Duration
}

// AnalysisService orchestrates panel loading, matrix building, and the
// stability metric suite over stored cohorts or inline panels.
type AnalysisService struct {
	store    drepo.PanelStore
	metrics  drepo.Metrics
	scale    *engine.RatingScale
	defaults AnalysisDefaults
	cache    icache.BytesCache
	cohorts  pcache.Service
	l        *applogger.Logger
}

// NewAnalysisService creates the analysis service. scale is the default
// rating scale used for stored cohorts; inline requests carry their own.
func NewAnalysisService(store drepo.PanelStore, metrics drepo.Metrics, scale *engine.RatingScale, defaults AnalysisDefaults) *AnalysisService {
	if defaults.CacheTTL <= 0 {
		defaults.CacheTTL = 30 * time.Second
	}
	return &AnalysisService{store: store, metrics: metrics, scale: scale, defaults: defaults}
}

// SetCache injects a response cache.
func (s *AnalysisService) SetCache(c icache.BytesCache) { s.cache = c }

// SetCohortCache injects a record cache for loaded cohorts.
func (s *AnalysisService) SetCohortCache(c pcache.Service) { s.cohorts = c }

// SetLogger injects a structured logger.
func (s *AnalysisService) SetLogger(l *applogger.Logger) { s.l = l }

// Analyze runs the full pipeline on an inline panel.
func (s *AnalysisService) Analyze(ctx context.Context, req *models.AnalyzeRequest) (*models.StabilityReport, error) {
	start := time.Now()

	scale, err := engine.NewRatingScale(req.Scale.Grades, req.Scale.Absorbing)
	if err != nil {
		s.metrics.RecordError("analyze_scale")
		return nil, err
	}
	panel, bcfg, err := s.normalize(req.Records, scale, req.Duplicates, req.GapPolicy)
	if err != nil {
		s.metrics.RecordError("analyze_normalize")
		return nil, err
	}

	report, err := s.stabilitySuite(ctx, panel, bcfg, req.BasePeriod, req.TargetPeriod, s.suiteDefaults(suiteParams{
		Epsilon:    req.Epsilon,
		Draws:      req.Draws,
		Seed:       req.Seed,
		Confidence: req.Confidence,
		Alpha:      req.Alpha,
	}))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAnalysis("analyze")
	s.metrics.RecordLatency("analyze", time.Since(start).Seconds())
	if s.l != nil {
		s.l.Debug("analysis.analyze done",
			applogger.Int("entities", panel.Size()),
			applogger.Int("draws", req.Draws),
			applogger.Duration("took", time.Since(start)),
		)
	}
	return report, nil
}

// Matrix builds transition matrices for a stored cohort.
func (s *AnalysisService) Matrix(ctx context.Context, req *models.MatrixRequest) ([]*models.MatrixView, error) {
	start := time.Now()
	duplicates, gapPolicy := s.policies(req.Duplicates, req.GapPolicy)
	cacheKey := fmt.Sprintf("matrix:%s:%d:%s:%s:%s", req.Cohort, req.Period, duplicates, gapPolicy, req.Form)

	if s.cache != nil {
		if b, ok, err := s.cache.GetBytes(cacheKey); err == nil && ok {
			var views []*models.MatrixView
			if err := json.Unmarshal(b, &views); err == nil {
				return views, nil
			}
		}
	}

	panel, bcfg, err := s.loadCohort(ctx, req.Cohort, duplicates, gapPolicy)
	if err != nil {
		return nil, err
	}

	sel := engine.Selector{Period: req.Period}
	matrices, err := engine.Build(panel, sel, bcfg)
	if err != nil {
		s.metrics.RecordError("matrix_build")
		return nil, err
	}

	views := make([]*models.MatrixView, 0, len(matrices))
	for _, g := range engine.GapLengths(matrices) {
		m := matrices[g]
		if req.Form == "probs" {
			m = m.Normalize()
		}
		views = append(views, m.View())
	}

	if s.cache != nil {
		if b, err := json.Marshal(views); err == nil {
			if err := s.cache.SetBytes(cacheKey, b, s.defaults.CacheTTL); err != nil && s.l != nil {
				s.l.Warn("analysis.matrix cache_set_error", applogger.Error(err))
			}
		}
	}

	s.metrics.RecordAnalysis("matrix")
	s.metrics.RecordLatency("matrix", time.Since(start).Seconds())
	return views, nil
}

// Stability compares two period cross-sections of a stored cohort.
func (s *AnalysisService) Stability(ctx context.Context, req *models.StabilityRequest) (*models.StabilityReport, error) {
	start := time.Now()
	params := s.suiteDefaults(suiteParams{
		Epsilon:    req.Epsilon,
		Draws:      req.Draws,
		Seed:       req.Seed,
		Confidence: req.Confidence,
		Alpha:      req.Alpha,
	})
	cacheKey := fmt.Sprintf("stability:%s:%d:%d:%d:%d", req.Cohort, req.BasePeriod, req.TargetPeriod, params.Draws, params.Seed)

	if s.cache != nil {
		if b, ok, err := s.cache.GetBytes(cacheKey); err == nil && ok {
			var report models.StabilityReport
			if err := json.Unmarshal(b, &report); err == nil {
				return &report, nil
			}
		}
	}

	panel, bcfg, err := s.loadCohort(ctx, req.Cohort, "", "")
	if err != nil {
		return nil, err
	}

	report, err := s.stabilitySuite(ctx, panel, bcfg, req.BasePeriod, req.TargetPeriod, params)
	if err != nil {
		return nil, err
	}
	report.Cohort = req.Cohort

	if s.cache != nil {
		if b, err := json.Marshal(report); err == nil {
			if err := s.cache.SetBytes(cacheKey, b, s.defaults.CacheTTL); err != nil && s.l != nil {
				s.l.Warn("analysis.stability cache_set_error", applogger.Error(err))
			}
		}
	}

	s.metrics.RecordAnalysis("stability")
	s.metrics.RecordLatency("stability", time.Since(start).Seconds())
	return report, nil
}

// Health reports the backing store health.
func (s *AnalysisService) Health(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Health(ctx)
}

type suiteParams struct {
	Epsilon    float64
	Draws      int
	Seed       int64
	Confidence float64
	Alpha      float64
}

// suiteDefaults fills unset request fields from the configured analysis
// defaults; fill still applies the engine fallbacks for anything left.
func (s *AnalysisService) suiteDefaults(p suiteParams) suiteParams {
	if p.Epsilon <= 0 {
		p.Epsilon = s.defaults.Epsilon
	}
	if p.Draws == 0 {
		p.Draws = s.defaults.Draws
	}
	if p.Seed == 0 {
		p.Seed = s.defaults.Seed
	}
	if p.Confidence <= 0 || p.Confidence >= 1 {
		p.Confidence = s.defaults.Confidence
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		p.Alpha = s.defaults.Alpha
	}
	return p
}

// policies resolves request policy strings against the configured defaults.
func (s *AnalysisService) policies(duplicates, gapPolicy string) (string, string) {
	if duplicates == "" {
		duplicates = s.defaults.DuplicatePolicy
	}
	if gapPolicy == "" {
		gapPolicy = s.defaults.GapPolicy
	}
	return duplicates, gapPolicy
}

func (p *suiteParams) fill() {
	if p.Epsilon <= 0 {
		p.Epsilon = engine.DefaultEpsilon
	}
	if p.Confidence <= 0 || p.Confidence >= 1 {
		p.Confidence = 0.95
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		p.Alpha = 0.05
	}
}

// stabilitySuite computes the full metric set between two period
// cross-sections and attaches bootstrap intervals when draws > 0.
func (s *AnalysisService) stabilitySuite(ctx context.Context, panel *engine.Panel, bcfg engine.BuilderConfig, basePeriod, targetPeriod int, params suiteParams) (*models.StabilityReport, error) {
	params.fill()

	baseCounts, err := engine.BuildCounts(panel, engine.Selector{Period: basePeriod}, bcfg)
	if err != nil {
		s.metrics.RecordError("suite_base")
		return nil, fmt.Errorf("base cross-section: %w", err)
	}
	curCounts, err := engine.BuildCounts(panel, engine.Selector{Period: targetPeriod}, bcfg)
	if err != nil {
		s.metrics.RecordError("suite_target")
		return nil, fmt.Errorf("target cross-section: %w", err)
	}
	baseProb := baseCounts.Normalize()
	curProb := curCounts.Normalize()

	psiCfg := engine.PSIConfig{Epsilon: params.Epsilon}
	report := &models.StabilityReport{
		Base:    baseProb.View(),
		Current: curProb.View(),
	}

	type metric struct {
		name string
		stat engine.Statistic
		// analytic p-value when defined, NaN otherwise
		pValue float64
	}

	psiStat := func(p *engine.Panel) (float64, error) {
		b, err := engine.BuildCounts(p, engine.Selector{Period: basePeriod}, bcfg)
		if err != nil {
			return 0, err
		}
		c, err := engine.BuildCounts(p, engine.Selector{Period: targetPeriod}, bcfg)
		if err != nil {
			return 0, err
		}
		return engine.PSI(b.Normalize(), c.Normalize(), psiCfg)
	}
	domStat := func(p *engine.Panel) (float64, error) {
		c, err := engine.BuildCounts(p, engine.Selector{Period: targetPeriod}, bcfg)
		if err != nil {
			return 0, err
		}
		return engine.DiagonalDominance(c.Normalize())
	}
	mobStat := func(p *engine.Panel) (float64, error) {
		c, err := engine.BuildCounts(p, engine.Selector{Period: targetPeriod}, bcfg)
		if err != nil {
			return 0, err
		}
		return engine.MobilityIndex(c.Normalize())
	}
	upStat := func(p *engine.Panel) (float64, error) {
		c, err := engine.BuildCounts(p, engine.Selector{Period: targetPeriod}, bcfg)
		if err != nil {
			return 0, err
		}
		up, _, err := engine.UpgradeDowngrade(c.Normalize())
		return up, err
	}
	downStat := func(p *engine.Panel) (float64, error) {
		c, err := engine.BuildCounts(p, engine.Selector{Period: targetPeriod}, bcfg)
		if err != nil {
			return 0, err
		}
		_, down, err := engine.UpgradeDowngrade(c.Normalize())
		return down, err
	}

	chi, err := engine.ChiSquareDistance(baseProb, curCounts, params.Epsilon)
	if err != nil {
		s.metrics.RecordError("suite_chisquare")
		return nil, err
	}

	metrics := []metric{
		{name: "psi", stat: psiStat, pValue: math.NaN()},
		{name: "chi_square", stat: nil, pValue: chi.PValue},
		{name: "diagonal_dominance", stat: domStat, pValue: math.NaN()},
		{name: "mobility_index", stat: mobStat, pValue: math.NaN()},
		{name: "upgrade_rate", stat: upStat, pValue: math.NaN()},
		{name: "downgrade_rate", stat: downStat, pValue: math.NaN()},
	}

	for _, m := range metrics {
		res := models.StabilityResult{
			Name:       m.name,
			CILower:    math.NaN(),
			CIUpper:    math.NaN(),
			Confidence: params.Confidence,
			PValue:     m.pValue,
			Alpha:      params.Alpha,
		}

		if m.name == "chi_square" {
			res.Value = chi.Stat
			res.Reject = chi.PValue < params.Alpha
			report.Results = append(report.Results, res)
			continue
		}

		res.Value, err = m.stat(panel)
		if err != nil {
			s.metrics.RecordError("suite_" + m.name)
			return nil, fmt.Errorf("%s: %w", m.name, err)
		}

		if params.Draws > 0 {
			boot, err := engine.Bootstrap(ctx, panel, engine.ResampleConfig{
				Draws:       params.Draws,
				Seed:        params.Seed,
				Confidence:  params.Confidence,
				MinObligors: s.defaults.MinObligors,
				Workers:     s.defaults.Workers,
			}, m.stat)
			if err != nil {
				s.metrics.RecordError("suite_bootstrap")
				return nil, fmt.Errorf("%s bootstrap: %w", m.name, err)
			}
			s.metrics.RecordDraws(params.Draws)
			res.CILower = boot.Lower
			res.CIUpper = boot.Upper
		}
		if !math.IsNaN(res.PValue) {
			res.Reject = res.PValue < params.Alpha
		}
		report.Results = append(report.Results, res)
	}

	return report, nil
}

// normalize parses request policies and builds the panel.
func (s *AnalysisService) normalize(records []models.ObservationRecord, scale *engine.RatingScale, duplicates, gapPolicy string) (*engine.Panel, engine.BuilderConfig, error) {
	duplicates, gapPolicy = s.policies(duplicates, gapPolicy)
	pol, err := engine.ParseDuplicatePolicy(duplicates)
	if err != nil {
		return nil, engine.BuilderConfig{}, err
	}
	panel, err := engine.Normalize(records, scale, engine.NormalizerConfig{Duplicates: pol})
	if err != nil {
		return nil, engine.BuilderConfig{}, err
	}
	bcfg := engine.BuilderConfig{AllowMultiPeriodGaps: gapPolicy == "allow-multi-period"}
	return panel, bcfg, nil
}

// loadCohort queries the panel store and normalizes with the default scale.
func (s *AnalysisService) loadCohort(ctx context.Context, cohort, duplicates, gapPolicy string) (*engine.Panel, engine.BuilderConfig, error) {
	if s.store == nil {
		return nil, engine.BuilderConfig{}, fmt.Errorf("panel store not configured")
	}

	key := pcache.GenerateKey("cohort", cohort)
	var records []models.ObservationRecord
	if s.cohorts != nil {
		if err := s.cohorts.Get(ctx, key, &records); err == nil && len(records) > 0 {
			return s.normalize(records, s.scale, duplicates, gapPolicy)
		}
	}

	records, err := s.store.QueryCohort(ctx, cohort, 0, -1)
	if err != nil {
		s.metrics.RecordError("store_query")
		return nil, engine.BuilderConfig{}, fmt.Errorf("query cohort %s: %w", cohort, err)
	}
	if len(records) == 0 {
		return nil, engine.BuilderConfig{}, &engine.EmptyCohortError{Selector: cohort}
	}
	if s.cohorts != nil {
		if err := s.cohorts.Set(ctx, key, records, s.defaults.CacheTTL); err != nil && s.l != nil {
			s.l.Warn("analysis cohort cache_set_error", applogger.Error(err))
		}
	}
	return s.normalize(records, s.scale, duplicates, gapPolicy)
}
