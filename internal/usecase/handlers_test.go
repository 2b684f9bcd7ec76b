package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/metrics"
)

type syncFunc func(ctx context.Context) error

func (f syncFunc) Sync(ctx context.Context) error { return f(ctx) }

func TestConfigChangeHandler_Handle(t *testing.T) {
	calls := 0
	var result error
	h := NewConfigChangeHandler("marketpulse.config", syncFunc(func(context.Context) error {
		calls++
		return result
	}), metrics.Nop{}, nil)

	assert.Equal(t, "marketpulse.config", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"reason":"holiday added","markets":["Japan"]}`)))
	require.NoError(t, h.Handle(context.Background(), nil))
	assert.Equal(t, 2, calls)

	result = &models.ConfigError{Market: "Japan", Field: "timezone", Err: errors.New("bad")}
	assert.NoError(t, h.Handle(context.Background(), []byte(`{}`)), "config errors are not redelivered")

	result = ErrMonitorNotStarted
	assert.NoError(t, h.Handle(context.Background(), []byte(`{}`)), "notices before start are acked")

	result = errors.New("source unreachable")
	assert.Error(t, h.Handle(context.Background(), []byte(`{}`)))

	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
	assert.Equal(t, 5, calls)
}

func TestEventRouter_Routes(t *testing.T) {
	pub, store := &recSink{}, &recSink{}
	ev := models.NewTransitionEvent("USA", models.StatusOpen, tokyo(t, 6, 23, 30, 0), models.PhaseOpen, tokyo(t, 6, 23, 30, 1))

	tests := []struct {
		backend       string
		wantPub       int
		wantStore     int
		wantBackendID string
	}{
		{BackendKafka, 1, 0, BackendKafka},
		{BackendClickHouse, 0, 1, BackendClickHouse},
		{BackendBoth, 1, 1, BackendBoth},
		{"", 0, 0, BackendNone},
	}
	for _, tt := range tests {
		t.Run(tt.wantBackendID, func(t *testing.T) {
			pub.events, store.events = nil, nil
			r, err := NewEventRouter(pub, store, metrics.Nop{}, tt.backend)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBackendID, r.Backend())
			require.NoError(t, r.Publish(context.Background(), ev))
			assert.Len(t, pub.all(), tt.wantPub)
			assert.Len(t, store.all(), tt.wantStore)
		})
	}
}

func TestEventRouter_Errors(t *testing.T) {
	_, err := NewEventRouter(nil, nil, metrics.Nop{}, BackendKafka)
	assert.Error(t, err)
	_, err = NewEventRouter(&recSink{}, nil, metrics.Nop{}, BackendBoth)
	assert.Error(t, err)
	_, err = NewEventRouter(nil, nil, metrics.Nop{}, "s3")
	assert.Error(t, err)

	pub := &recSink{fail: 1}
	r, err := NewEventRouter(pub, nil, metrics.Nop{}, BackendKafka)
	require.NoError(t, err)
	err = r.Publish(context.Background(), models.TransitionEvent{MarketKey: "USA"})
	assert.ErrorContains(t, err, "route event to kafka")
}
