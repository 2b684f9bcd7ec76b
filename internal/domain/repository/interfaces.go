package repository

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
)

// ConfigSource is the external owner of market configuration.
type ConfigSource interface {
	Markets(ctx context.Context) ([]models.MarketConfig, error)
}

// StateStore persists MarketRuntimeState. Load returns nil, nil when no record exists.
type StateStore interface {
	Load(ctx context.Context, market string) (*models.MarketRuntimeState, error)
	Save(ctx context.Context, s models.MarketRuntimeState) error
	Delete(ctx context.Context, market string) error
}

// EventSink receives committed transition events in order for each market.
type EventSink interface {
	Publish(ctx context.Context, ev models.TransitionEvent) error
}

type Metrics interface {
	RecordTransition(market string, event models.TransitionKind)
	RecordFire(market string, lateness time.Duration)
	RecordError(market, kind string)
	RecordMarketOpen(market string, open bool)
	RecordComposite(score float64, active int)
	RecordLatency(op string, seconds float64)
}
