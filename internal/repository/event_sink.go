package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	pkgkafka "MarketPulse/pkg/kafka"
)

// Publisher is the part of the Kafka producer the sink uses.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaEventSink publishes transition events keyed by market so one
// market's events stay on one partition, in order.
type KafkaEventSink struct {
	producer Publisher
	topic    string
}

func NewKafkaEventSink(producer Publisher, topic string) *KafkaEventSink {
	return &KafkaEventSink{producer: producer, topic: topic}
}

func (p *KafkaEventSink) Publish(ctx context.Context, ev models.TransitionEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.MarketKey), ev)
}

var (
	_ domrepo.EventSink = (*KafkaEventSink)(nil)
	_ Publisher         = (*pkgkafka.Producer)(nil)
)

// ClickHouseEventSink appends transition events to the transition log table.
type ClickHouseEventSink struct {
	db    *sql.DB
	table string
}

// NewClickHouseEventSink writes into table, which must be qualified with
// its database.
func NewClickHouseEventSink(db *sql.DB, table string) *ClickHouseEventSink {
	return &ClickHouseEventSink{db: db, table: table}
}

func (s *ClickHouseEventSink) Publish(ctx context.Context, ev models.TransitionEvent) error {
	q := fmt.Sprintf("INSERT INTO %s (event_id, event, market_key, phase, at, emitted_at) VALUES (?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		ev.ID,
		string(ev.Event),
		ev.MarketKey,
		string(ev.Phase),
		ev.At.UTC(),
		ev.EmittedAt.UTC(),
	)
	return err
}

// History returns the logged transitions of market in [from, to], newest first.
func (s *ClickHouseEventSink) History(ctx context.Context, market string, from, to time.Time, limit int) ([]models.TransitionEvent, error) {
	q := fmt.Sprintf(`SELECT event_id, event, market_key, phase, at, emitted_at FROM %s FINAL
WHERE market_key = ? AND at >= ? AND at <= ? ORDER BY at DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, market, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []models.TransitionEvent
	for rows.Next() {
		var (
			ev           models.TransitionEvent
			event, phase string
		)
		if err := rows.Scan(&ev.ID, &event, &ev.MarketKey, &phase, &ev.At, &ev.EmittedAt); err != nil {
			return nil, err
		}
		ev.Event = models.TransitionKind(event)
		ev.Phase = models.Phase(phase)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *ClickHouseEventSink) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ domrepo.EventSink = (*ClickHouseEventSink)(nil)
