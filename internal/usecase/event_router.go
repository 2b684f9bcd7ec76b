package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
)

const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendBoth       = "both"
	BackendNone       = "none"
)

// EventRouter routes transition events to the configured backend.
type EventRouter struct {
	pub     domrepo.EventSink
	store   domrepo.EventSink
	metrics domrepo.Metrics
	backend string
}

func NewEventRouter(pub, store domrepo.EventSink, metrics domrepo.Metrics, backend string) (*EventRouter, error) {
	switch backend {
	case BackendKafka:
		if pub == nil {
			return nil, errors.New("kafka backend selected without a producer")
		}
	case BackendClickHouse:
		if store == nil {
			return nil, errors.New("clickhouse backend selected without a client")
		}
	case BackendBoth:
		if pub == nil || store == nil {
			return nil, errors.New("both backends selected but one is missing")
		}
	case BackendNone, "":
		backend = BackendNone
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
	return &EventRouter{pub: pub, store: store, metrics: metrics, backend: backend}, nil
}

func (r *EventRouter) Backend() string { return r.backend }

// Publish delivers ev. With both backends, Kafka goes first and a ClickHouse
// failure is still reported so the event is retried as a whole; consumers
// dedupe on the event ID.
func (r *EventRouter) Publish(ctx context.Context, ev models.TransitionEvent) error {
	start := time.Now()
	var err error
	switch r.backend {
	case BackendKafka:
		err = r.pub.Publish(ctx, ev)
	case BackendClickHouse:
		err = r.store.Publish(ctx, ev)
	case BackendBoth:
		if err = r.pub.Publish(ctx, ev); err == nil {
			err = r.store.Publish(ctx, ev)
		}
	case BackendNone:
		return nil
	}
	if err != nil {
		r.metrics.RecordError(ev.MarketKey, "route_"+r.backend)
		return fmt.Errorf("route event to %s: %w", r.backend, err)
	}
	r.metrics.RecordLatency("route_"+r.backend, time.Since(start).Seconds())
	return nil
}

var _ domrepo.EventSink = (*EventRouter)(nil)
