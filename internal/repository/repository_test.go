package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
	pkgcache "MarketPulse/pkg/cache"
	"MarketPulse/pkg/config"
)

func TestCacheStateStore_RoundTrip(t *testing.T) {
	c := pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0))
	defer c.Close()
	s := NewCacheStateStore(c, 0)
	ctx := context.Background()

	got, err := s.Load(ctx, "USA")
	require.NoError(t, err)
	assert.Nil(t, got, "missing record is not an error")

	st := models.MarketRuntimeState{
		MarketKey: "USA", Status: models.StatusOpen, NextEvent: models.EventClose,
		NextEventAt: time.Date(2025, 1, 6, 21, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2025, 1, 6, 14, 30, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, st))

	got, err = s.Load(ctx, "USA")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, st.SameSchedule(*got))
	assert.True(t, st.UpdatedAt.Equal(got.UpdatedAt))

	all, err := s.LoadAll(ctx, "USA", "Japan")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "USA")

	require.NoError(t, s.Delete(ctx, "USA"))
	got, err = s.Load(ctx, "USA")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, s.Save(ctx, models.MarketRuntimeState{}))
}

type capturePublisher struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func TestKafkaEventSink_KeysByMarket(t *testing.T) {
	p := &capturePublisher{}
	s := NewKafkaEventSink(p, "marketpulse.transitions")
	ev := models.NewTransitionEvent("Japan", models.StatusOpen, time.Now(), models.PhaseOpen, time.Now())

	require.NoError(t, s.Publish(context.Background(), ev))
	assert.Equal(t, "marketpulse.transitions", p.topic)
	assert.Equal(t, []byte("Japan"), p.key)
	assert.Equal(t, ev, p.value)

	p.err = errors.New("broker down")
	assert.Error(t, s.Publish(context.Background(), ev))
}

const marketsYAML = `
markets:
  - key: USA
    timezone: America/New_York
    open: "09:30"
    close: "16:00"
    weight: 0.25
    region: american
    holidays:
      preset: us
      overrides:
        - {date: "2025-11-28", is_trading_day: true, close: "13:00"}
        - {date: "2025-01-09", holiday_name: Day of Mourning}
  - key: Gulf
    timezone: Asia/Dubai
    open: "10:00"
    close: "15:00"
    weight: 0.05
    is_control_market: false
    weekend: [saturday, sunday]
    holidays:
      observance: none
      fixed:
        - {name: National Day, month: december, day: 2}
      nth_weekday:
        - {name: Some Monday, month: "3", weekday: mon, n: -1}
      easter:
        - {name: Orthodox Easter Monday, offset: 1, julian: true}
`

func writeMarkets(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestFileConfigSource_Converts(t *testing.T) {
	src := NewFileConfigSource(writeMarkets(t, marketsYAML))
	ms, err := src.Markets(context.Background())
	require.NoError(t, err)
	require.Len(t, ms, 2)

	usa := ms[0]
	assert.Equal(t, "USA", usa.Key)
	assert.Equal(t, "USA", usa.DisplayName)
	assert.Equal(t, "America/New_York", usa.Location.String())
	assert.Equal(t, models.ClockTime{Hour: 9, Minute: 30}, usa.Open)
	assert.Equal(t, "AMERICAN", usa.Region)
	assert.True(t, usa.Scheduled())
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, usa.Weekend)
	require.Len(t, usa.Holidays.Overrides, 2)
	require.NotNil(t, usa.Holidays.Overrides[0].Close)
	assert.Nil(t, usa.Holidays.Overrides[0].Open)
	assert.Equal(t, models.ClockTime{Hour: 13}, *usa.Holidays.Overrides[0].Close)

	gulf := ms[1]
	assert.False(t, gulf.Scheduled())
	assert.Equal(t, models.ObserveNone, gulf.Holidays.Observance)
	assert.Equal(t, time.December, gulf.Holidays.Fixed[0].Month)
	assert.Equal(t, time.March, gulf.Holidays.NthWeekday[0].Month)
	assert.Equal(t, time.Monday, gulf.Holidays.NthWeekday[0].Weekday)
	assert.True(t, gulf.Holidays.Easter[0].Julian)

	again, err := src.Markets(context.Background())
	require.NoError(t, err)
	assert.True(t, usa.Equal(again[0]))
}

func TestFileConfigSource_ConfigErrors(t *testing.T) {
	base := "markets:\n  - key: X\n    timezone: %s\n    open: %q\n    close: %q\n    weight: 0.1\n%s"
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown zone", fmt.Sprintf(base, "Mars/Olympus", "09:00", "17:00", ""), "timezone"},
		{"bad open", fmt.Sprintf(base, "UTC", "9am", "17:00", ""), "open"},
		{"close before open", fmt.Sprintf(base, "UTC", "17:00", "09:00", ""), "close"},
		{"equal open close", fmt.Sprintf(base, "UTC", "09:00", "09:00", ""), "close"},
		{"bad weekend", fmt.Sprintf(base, "UTC", "09:00", "17:00", "    weekend: [caturday]\n"), "weekend"},
		{"unknown preset", fmt.Sprintf(base, "UTC", "09:00", "17:00", "    holidays: {preset: atlantis}\n"), "holidays.preset"},
		{"bad fixed day", fmt.Sprintf(base, "UTC", "09:00", "17:00", "    holidays: {fixed: [{name: x, month: feb, day: 30}]}\n"), "holidays.fixed"},
		{"hours on closed override", fmt.Sprintf(base, "UTC", "09:00", "17:00", "    holidays: {overrides: [{date: '2025-01-02', close: '12:00'}]}\n"), "holidays.overrides"},
		{"duplicate override", fmt.Sprintf(base, "UTC", "09:00", "17:00", "    holidays: {overrides: [{date: '2025-01-02'}, {date: '2025-01-02'}]}\n"), "holidays.overrides"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileConfigSource(writeMarkets(t, tt.body)).Markets(context.Background())
			var cerr *models.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "X", cerr.Market)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestConvertMarkets_Duplicate(t *testing.T) {
	f, err := config.ParseMarkets([]byte(`
markets:
  - {key: A, timezone: UTC, open: "09:00", close: "10:00"}
  - {key: A, timezone: UTC, open: "09:00", close: "10:00"}
`))
	require.NoError(t, err)
	_, err = ConvertMarkets(f)
	var cerr *models.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "key", cerr.Field)
}

func TestFileConfigSource_RepositoryMarkets(t *testing.T) {
	ms, err := NewFileConfigSource(filepath.Join("..", "..", "config", "markets.yaml")).Markets(context.Background())
	require.NoError(t, err)
	assert.Len(t, ms, 9)
}

func TestInstanceLock_ExcludesSecondOwner(t *testing.T) {
	c := pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0))
	defer c.Close()
	ctx := context.Background()

	a := NewInstanceLock(c, time.Minute, nil)
	b := NewInstanceLock(c, time.Minute, nil)
	require.NotEqual(t, a.Token(), b.Token())
	require.NoError(t, a.Acquire(ctx))
	assert.ErrorIs(t, b.Acquire(ctx), ErrLockHeld)

	require.NoError(t, a.Release(ctx))
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Release(ctx))
	assert.NoError(t, a.Release(ctx), "second release is a no-op")
}
