package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"RatingFlow/internal/domain/models"
	"RatingFlow/internal/domain/repository"
	pkgkafka "RatingFlow/pkg/kafka"
)

// ClickHousePanelStore implements PanelStore for ClickHouse.
type ClickHousePanelStore struct {
	db    *sql.DB
	table string
}

// NewClickHousePanelStore creates a ClickHouse-backed panel store.
func NewClickHousePanelStore(db *sql.DB, table string) repository.PanelStore {
	return &ClickHousePanelStore{db: db, table: table}
}

// Init ensures the observation table exists (idempotent).
func (s *ClickHousePanelStore) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_id   String,
		period      Int32,
		grade       LowCardinality(String),
		weight      Float64,
		cohort      LowCardinality(String),
		ingested_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree(ingested_at)
	ORDER BY (cohort, entity_id, period)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("init panel table: %w", err)
	}
	return nil
}

func (s *ClickHousePanelStore) Store(ctx context.Context, r *models.ObservationRecord) error {
	q := fmt.Sprintf("INSERT INTO %s (entity_id, period, grade, weight, cohort, ingested_at) VALUES (?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		r.EntityID,
		r.Period,
		r.Grade,
		r.EffectiveWeight(),
		r.Cohort,
		time.Now(),
	)
	return err
}

func (s *ClickHousePanelStore) StoreBatch(ctx context.Context, records []*models.ObservationRecord) error {
	if len(records) == 0 {
		return nil
	}
	// Multi-row VALUES insert to reduce round-trips. Chunked at 2000 rows.
	const chunkSize = 2000
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*6)
		now := time.Now()
		for _, r := range records[start:end] {
			if r == nil || r.EntityID == "" || r.Grade == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args,
				r.EntityID,
				r.Period,
				r.Grade,
				r.EffectiveWeight(),
				r.Cohort,
				now,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (entity_id, period, grade, weight, cohort, ingested_at) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

// QueryCohort returns the latest observation per (entity, period) in the
// requested cohort and period window. toPeriod < 0 means no upper bound.
func (s *ClickHousePanelStore) QueryCohort(ctx context.Context, cohort string, fromPeriod, toPeriod int) ([]models.ObservationRecord, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT entity_id, period, grade, weight, cohort FROM %s FINAL WHERE period >= ?", s.table)
	args := []interface{}{fromPeriod}
	if cohort != "" {
		sb.WriteString(" AND cohort = ?")
		args = append(args, cohort)
	}
	if toPeriod >= 0 {
		sb.WriteString(" AND period <= ?")
		args = append(args, toPeriod)
	}
	sb.WriteString(" ORDER BY entity_id, period")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ObservationRecord
	for rows.Next() {
		var r models.ObservationRecord
		if err := rows.Scan(&r.EntityID, &r.Period, &r.Grade, &r.Weight, &r.Cohort); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *ClickHousePanelStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHousePanelStore) Close() error {
	return nil // Managed by pkg
}

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, r *models.ObservationRecord) error {
	return p.producer.Publish(ctx, p.topic, []byte(r.EntityID), map[string]interface{}{
		"entity": r.EntityID,
		"period": r.Period,
		"grade":  r.Grade,
		"weight": r.EffectiveWeight(),
		"cohort": r.Cohort,
	})
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, records []*models.ObservationRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(records))
	for i, r := range records {
		msgs[i] = pkgkafka.Message{
			Key: []byte(r.EntityID),
			Value: map[string]interface{}{
				"entity": r.EntityID,
				"period": r.Period,
				"grade":  r.Grade,
				"weight": r.EffectiveWeight(),
				"cohort": r.Cohort,
			},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
