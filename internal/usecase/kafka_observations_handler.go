package usecase

import (
	"context"
	"encoding/json"
	"time"

	"RatingFlow/internal/domain/models"
	domrepo "RatingFlow/internal/domain/repository"
	pkgkafka "RatingFlow/pkg/kafka"
)

// KafkaObservationsHandler consumes observation messages and writes them to the panel store.
type KafkaObservationsHandler struct {
	topic   string
	store   domrepo.PanelStore
	metrics domrepo.Metrics
}

func NewKafkaObservationsHandler(topic string, store domrepo.PanelStore, metrics domrepo.Metrics) *KafkaObservationsHandler {
	return &KafkaObservationsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// incoming message schema: {entity, period, grade, weight, cohort}
func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Entity string  `json:"entity"`
		Period int     `json:"period"`
		Grade  string  `json:"grade"`
		Weight float64 `json:"weight"`
		Cohort string  `json:"cohort"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	start := time.Now()
	err := h.store.Store(ctx, &models.ObservationRecord{
		EntityID: m.Entity,
		Period:   m.Period,
		Grade:    m.Grade,
		Weight:   m.Weight,
		Cohort:   m.Cohort,
	})
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordObservation("clickhouse", m.Cohort)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
