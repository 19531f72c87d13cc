package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RatingFlow/internal/domain/models"
	icache "RatingFlow/internal/service/cache"
	applogger "RatingFlow/pkg/logger"
	"RatingFlow/pkg/queue"
)

// AnalysisJobType is the queue message type handled by AnalysisJob.
const AnalysisJobType = "stability_analysis"

// jobStatusTTL bounds how long finished job results stay readable.
const jobStatusTTL = 24 * time.Hour

// AnalysisJobPayload is the queue payload for an async stability run.
type AnalysisJobPayload struct {
	ID     string                  `json:"id"`
	Cohort string                  `json:"cohort"`
	Params models.StabilityRequest `json:"params"`
}

// AnalysisJob runs stability analyses from the queue and records their
// status in the cache for polling.
type AnalysisJob struct {
	svc    *AnalysisService
	status icache.BytesCache
	l      *applogger.Logger
}

func NewAnalysisJob(svc *AnalysisService, status icache.BytesCache, l *applogger.Logger) *AnalysisJob {
	return &AnalysisJob{svc: svc, status: status, l: l}
}

func (j *AnalysisJob) Name() string { return "analysis-job" }
func (j *AnalysisJob) Type() string { return AnalysisJobType }

func (j *AnalysisJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[AnalysisJobPayload](payload)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	if p.ID == "" || p.Cohort == "" {
		return fmt.Errorf("job missing id or cohort")
	}

	j.setStatus(&models.JobStatus{ID: p.ID, State: "running"})

	req := p.Params
	req.Cohort = p.Cohort
	report, err := j.svc.Stability(ctx, &req)
	if err != nil {
		j.l.Error("analysis job failed",
			applogger.String("id", p.ID),
			applogger.String("cohort", p.Cohort),
			applogger.Error(err),
		)
		j.setStatus(&models.JobStatus{ID: p.ID, State: "failed", Error: err.Error()})
		return err
	}

	j.setStatus(&models.JobStatus{ID: p.ID, State: "done", Report: report})
	j.l.Info("analysis job done",
		applogger.String("id", p.ID),
		applogger.String("cohort", p.Cohort),
	)
	return nil
}

func (j *AnalysisJob) setStatus(st *models.JobStatus) {
	if j.status == nil {
		return
	}
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := j.status.SetBytes(JobStatusKey(st.ID), b, jobStatusTTL); err != nil && j.l != nil {
		j.l.Warn("job status write failed", applogger.String("id", st.ID), applogger.Error(err))
	}
}

// JobStatusKey is the cache key for a job's status record.
func JobStatusKey(id string) string { return "job:" + id }

var _ queue.Job = (*AnalysisJob)(nil)
