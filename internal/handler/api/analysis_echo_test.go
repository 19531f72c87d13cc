package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "RatingFlow/internal/domain/models"
	"RatingFlow/internal/engine"
	icache "RatingFlow/internal/service/cache"
	"RatingFlow/internal/usecase"
	applogger "RatingFlow/pkg/logger"
)

type apiStore struct {
	records []models.ObservationRecord
}

func (s *apiStore) Init(ctx context.Context) error                             { return nil }
func (s *apiStore) Store(ctx context.Context, r *models.ObservationRecord) error { return nil }
func (s *apiStore) StoreBatch(ctx context.Context, rs []*models.ObservationRecord) error {
	return nil
}
func (s *apiStore) Health(ctx context.Context) error { return nil }
func (s *apiStore) Close() error                     { return nil }

func (s *apiStore) QueryCohort(ctx context.Context, cohort string, from, to int) ([]models.ObservationRecord, error) {
	return s.records, nil
}

type apiMetrics struct{}

func (apiMetrics) RecordObservation(backend, cohort string) {}
func (apiMetrics) RecordAnalysis(kind string)               {}
func (apiMetrics) RecordDraws(n int)                        {}
func (apiMetrics) RecordError(kind string)                  {}
func (apiMetrics) RecordLatency(op string, seconds float64) {}

type apiQueue struct {
	msgType string
	payload interface{}
}

func (q *apiQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.msgType = msgType
	q.payload = payload
	return nil
}

func cohortRecords() []models.ObservationRecord {
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
				Cohort:   "corporate",
			})
		}
	}
	return out
}

func newAPIHandler(t *testing.T, records []models.ObservationRecord) *AnalysisEchoHandler {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "console", Output: "stdout"})
	require.NoError(t, err)
	scale, err := engine.NewRatingScale([]string{"A", "B", "C"}, nil)
	require.NoError(t, err)
	svc := usecase.NewAnalysisService(&apiStore{records: records}, apiMetrics{}, scale, usecase.AnalysisDefaults{
		MinObligors: 4,
		Workers:     2,
	})
	return NewAnalysisEchoHandler(l, svc, nil)
}

type apiEnvelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, h func(echo.Context) error, method, target, body string) apiEnvelope {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	require.NoError(t, h(c))

	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestEnqueueJobNaturalPayload(t *testing.T) {
	h := newAPIHandler(t, cohortRecords())
	q := &apiQueue{}
	status := icache.NewTTLCache()
	h.SetJobQueue(q, status)

	env := doRequest(t, h.EnqueueJob, http.MethodPost, "/api/jobs",
		`{"cohort":"corporate","params":{"base_period":0,"target_period":1}}`)
	assert.Equal(t, http.StatusCreated, env.Status)

	require.NotNil(t, q.payload)
	assert.Equal(t, usecase.AnalysisJobType, q.msgType)
	p, ok := q.payload.(usecase.AnalysisJobPayload)
	require.True(t, ok)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "corporate", p.Cohort)
	assert.Equal(t, "corporate", p.Params.Cohort, "cohort flows into the job params without being repeated by the client")
	assert.Equal(t, 1, p.Params.TargetPeriod)

	b, found, err := status.GetBytes(usecase.JobStatusKey(p.ID))
	require.NoError(t, err)
	require.True(t, found)
	var st models.JobStatus
	require.NoError(t, json.Unmarshal(b, &st))
	assert.Equal(t, "queued", st.State)
}

func TestEnqueueJobParamsOptional(t *testing.T) {
	h := newAPIHandler(t, cohortRecords())
	q := &apiQueue{}
	h.SetJobQueue(q, icache.NewTTLCache())

	env := doRequest(t, h.EnqueueJob, http.MethodPost, "/api/jobs", `{"cohort":"sovereign"}`)
	assert.Equal(t, http.StatusCreated, env.Status)

	p, ok := q.payload.(usecase.AnalysisJobPayload)
	require.True(t, ok)
	assert.Equal(t, "sovereign", p.Params.Cohort)
}

func TestEnqueueJobRequiresCohort(t *testing.T) {
	h := newAPIHandler(t, cohortRecords())
	h.SetJobQueue(&apiQueue{}, icache.NewTTLCache())

	env := doRequest(t, h.EnqueueJob, http.MethodPost, "/api/jobs", `{"params":{"base_period":0}}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func sumCounts(t *testing.T, data json.RawMessage) float64 {
	t.Helper()
	var views []models.MatrixView
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 1)
	total := 0.0
	for _, row := range views[0].Counts {
		for _, v := range row {
			total += v
		}
	}
	return total
}

func TestMatrixPeriodQuery(t *testing.T) {
	h := newAPIHandler(t, cohortRecords())

	// explicit period 0 selects that single cross-section
	env := doRequest(t, h.Matrix, http.MethodGet, "/api/matrix?cohort=corporate&form=counts&period=0", "")
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, 8.0, sumCounts(t, env.Data))

	// omitted period means all consecutive pairs
	env = doRequest(t, h.Matrix, http.MethodGet, "/api/matrix?cohort=corporate&form=counts", "")
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, 16.0, sumCounts(t, env.Data))
}
