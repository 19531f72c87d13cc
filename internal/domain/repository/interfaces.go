package repository

import (
	"context"

	"RatingFlow/internal/domain/models"
)

// ObservationStream is an upstream feed of rating observations.
type ObservationStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.ObservationRecord, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Publisher forwards observation records to the message backend.
type Publisher interface {
	Publish(ctx context.Context, r *models.ObservationRecord) error
	PublishBatch(ctx context.Context, records []*models.ObservationRecord) error
	Close() error
}

// PanelStore persists and serves longitudinal observation panels.
type PanelStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, r *models.ObservationRecord) error
	StoreBatch(ctx context.Context, records []*models.ObservationRecord) error
	QueryCohort(ctx context.Context, cohort string, fromPeriod, toPeriod int) ([]models.ObservationRecord, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// Metrics records operational counters for the service.
type Metrics interface {
	RecordObservation(backend, cohort string)
	RecordAnalysis(kind string)
	RecordDraws(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
