package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	models "RatingFlow/internal/domain/models"
	"RatingFlow/internal/engine"
	icache "RatingFlow/internal/service/cache"
	"RatingFlow/internal/service/metrics"
	"RatingFlow/internal/service/ratelimit"
	"RatingFlow/internal/usecase"
	xhttp "RatingFlow/pkg/http"
	xlogger "RatingFlow/pkg/logger"
	"RatingFlow/pkg/queue"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// AnalysisEchoHandler implements Echo-based HTTP handlers for the analysis API.
type AnalysisEchoHandler struct {
	logger *xlogger.Logger
	svc    *usecase.AnalysisService
	proc   *usecase.ObservationProcessor
	jobs   queue.QueueService
	status icache.BytesCache
	rl     *ratelimit.Limiter
}

func NewAnalysisEchoHandler(logger *xlogger.Logger, svc *usecase.AnalysisService, proc *usecase.ObservationProcessor) *AnalysisEchoHandler {
	metrics.Register()
	return &AnalysisEchoHandler{logger: logger, svc: svc, proc: proc, rl: ratelimit.New()}
}

// SetJobQueue wires the async job queue and its status cache.
func (h *AnalysisEchoHandler) SetJobQueue(q queue.QueueService, status icache.BytesCache) {
	h.jobs = q
	h.status = status
}

func (h *AnalysisEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/analyze", h.Analyze)
	g.POST("/observations", h.Observations)
	g.GET("/matrix", h.Matrix)
	g.GET("/stability", h.Stability)
	g.POST("/jobs", h.EnqueueJob)
	g.GET("/jobs/:id", h.JobStatus)
	g.GET("/health", h.Health)
}

func (h *AnalysisEchoHandler) Analyze(c echo.Context) error {
	start := time.Now()
	endpoint := "analyze"
	defer func() { metrics.AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	if !h.rl.Allow(c.RealIP()+":analyze", 3, 1) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	}

	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	report, err := h.svc.Analyze(c.Request().Context(), req)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("analyze usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, engineError(err))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *AnalysisEchoHandler) Observations(c echo.Context) error {
	endpoint := "observations"
	start := time.Now()
	defer func() { metrics.AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.ObservationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	recs := make([]*models.ObservationRecord, 0, len(req.Records))
	for i := range req.Records {
		r := req.Records[i]
		if r.Cohort == "" {
			r.Cohort = req.Cohort
		}
		recs = append(recs, &r)
	}
	if err := h.proc.ProcessBatch(c.Request().Context(), recs); err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("observations ingest error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, map[string]int{"accepted": len(recs)})
}

func (h *AnalysisEchoHandler) Matrix(c echo.Context) error {
	endpoint := "matrix"
	start := time.Now()
	defer func() { metrics.AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	if !h.rl.Allow(c.RealIP()+":matrix", 5, 2) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	}

	req := &models.MatrixRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	// raw parse: an omitted period means all pairs, while an explicit
	// period=0 is a valid single cross-section
	req.Period = xhttp.ParseIntDefault(c.QueryParam("period"), -1)

	views, err := h.svc.Matrix(c.Request().Context(), req)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("matrix usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, engineError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, views)
}

func (h *AnalysisEchoHandler) Stability(c echo.Context) error {
	endpoint := "stability"
	start := time.Now()
	defer func() { metrics.AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	if !h.rl.Allow(c.RealIP()+":stability", 3, 1) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	}

	req := &models.StabilityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	report, err := h.svc.Stability(c.Request().Context(), req)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("stability usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, engineError(err))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *AnalysisEchoHandler) EnqueueJob(c echo.Context) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalError("job queue not configured"))
	}

	req := &models.JobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	id := uuid.NewString()
	payload := usecase.AnalysisJobPayload{ID: id, Cohort: req.Cohort, Params: req.Params.Stability(req.Cohort)}
	if err := h.jobs.PublishMessage(c.Request().Context(), usecase.AnalysisJobType, payload); err != nil {
		h.logger.Error("job enqueue error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	st := &models.JobStatus{ID: id, State: "queued"}
	if h.status != nil {
		if b, err := json.Marshal(st); err == nil {
			_ = h.status.SetBytes(usecase.JobStatusKey(id), b, 24*time.Hour)
		}
	}
	return xhttp.CreatedResponse(c, st)
}

func (h *AnalysisEchoHandler) JobStatus(c echo.Context) error {
	if h.status == nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalError("job queue not configured"))
	}
	id := c.Param("id")
	b, ok, err := h.status.GetBytes(usecase.JobStatusKey(id))
	if err != nil {
		h.logger.Error("job status read error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("job %s not found", id))
	}
	var st models.JobStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, &st)
}

func (h *AnalysisEchoHandler) Health(c echo.Context) error {
	if err := h.svc.Health(c.Request().Context()); err != nil {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// engineError maps typed engine errors onto HTTP application errors.
func engineError(err error) error {
	var (
		invScale *engine.InvalidScaleError
		dup      *engine.DuplicateObservationError
		unknown  *engine.UnknownGradeError
		empty    *engine.EmptyCohortError
		ill      *engine.IllDefinedMatrixError
		insuff   *engine.InsufficientObligorsError
	)
	switch {
	case errors.As(err, &invScale), errors.As(err, &dup), errors.As(err, &unknown):
		return xhttp.BadRequestError(err.Error())
	case errors.As(err, &empty):
		return xhttp.NotFoundError(err.Error())
	case errors.As(err, &ill), errors.As(err, &insuff):
		return xhttp.NewAppError("ERR_UNPROCESSABLE", "", err.Error(), http.StatusUnprocessableEntity)
	default:
		return err
	}
}
