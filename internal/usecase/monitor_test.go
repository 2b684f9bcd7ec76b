package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/internal/service/composite"
	"MarketPulse/internal/service/resolver"
	"MarketPulse/pkg/clock"
)

type fakeSource struct {
	mu   sync.Mutex
	cfgs []models.MarketConfig
	err  error
}

func (s *fakeSource) Markets(context.Context) ([]models.MarketConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.MarketConfig(nil), s.cfgs...), nil
}

func (s *fakeSource) set(cfgs ...models.MarketConfig) {
	s.mu.Lock()
	s.cfgs = cfgs
	s.mu.Unlock()
}

type memStore struct {
	mu      sync.Mutex
	states  map[string]models.MarketRuntimeState
	saves   map[string]int
	failFor map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		states:  make(map[string]models.MarketRuntimeState),
		saves:   make(map[string]int),
		failFor: make(map[string]int),
	}
}

func (s *memStore) Load(_ context.Context, market string) (*models.MarketRuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[market]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) Save(_ context.Context, st models.MarketRuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[st.MarketKey] > 0 {
		s.failFor[st.MarketKey]--
		return errors.New("store unavailable")
	}
	s.states[st.MarketKey] = st
	s.saves[st.MarketKey]++
	return nil
}

func (s *memStore) Delete(_ context.Context, market string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, market)
	return nil
}

func (s *memStore) get(market string) (models.MarketRuntimeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[market]
	return st, ok
}

func (s *memStore) saveCount(market string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[market]
}

type recSink struct {
	mu     sync.Mutex
	events []models.TransitionEvent
	fail   int
}

func (s *recSink) Publish(_ context.Context, ev models.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("broker down")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recSink) all() []models.TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TransitionEvent(nil), s.events...)
}

func loc(t *testing.T, name string) *time.Location {
	t.Helper()
	l, err := time.LoadLocation(name)
	require.NoError(t, err)
	return l
}

func market(t *testing.T, key, tz string, open, close models.ClockTime, weight float64) models.MarketConfig {
	return models.MarketConfig{
		Key: key, DisplayName: key, Timezone: tz, Location: loc(t, tz),
		Open: open, Close: close, Weight: weight,
		IsControlMarket: true, IsActive: true,
		Weekend:  []time.Weekday{time.Saturday, time.Sunday},
		Holidays: models.HolidayCalendar{Preset: "none"},
	}
}

func japanMarket(t *testing.T) models.MarketConfig {
	return market(t, "Japan", "Asia/Tokyo", models.ClockTime{Hour: 9}, models.ClockTime{Hour: 15}, 0.15)
}

func usaMarket(t *testing.T) models.MarketConfig {
	return market(t, "USA", "America/New_York", models.ClockTime{Hour: 9, Minute: 30}, models.ClockTime{Hour: 16}, 0.25)
}

type harness struct {
	clk    *clock.Fake
	source *fakeSource
	store  *memStore
	sink   *recSink
	mon    *MarketMonitor
}

func newHarness(t *testing.T, now time.Time, cfgs ...models.MarketConfig) *harness {
	t.Helper()
	h := &harness{
		clk:    clock.NewFake(now),
		source: &fakeSource{cfgs: cfgs},
		store:  newMemStore(),
		sink:   &recSink{},
	}
	h.mon = NewMarketMonitor(h.source, h.store, h.sink,
		resolver.New(calendar.NewService()),
		composite.New(nil),
		WithClock(h.clk),
		WithReconcileInterval(0),
		WithRetry(1, 0),
		WithRetryDelay(time.Minute),
	)
	t.Cleanup(func() { _ = h.mon.Stop(context.Background()) })
	return h
}

func tokyo(t *testing.T, d, hh, mm, ss int) time.Time {
	return time.Date(2025, time.January, d, hh, mm, ss, 0, loc(t, "Asia/Tokyo"))
}

func TestMonitor_StartupCorrectsStaleState(t *testing.T) {
	// Saturday in Tokyo with a leftover OPEN record from Friday
	h := newHarness(t, tokyo(t, 4, 12, 0, 0), japanMarket(t))
	h.store.states["Japan"] = models.MarketRuntimeState{
		MarketKey: "Japan", Status: models.StatusOpen,
		NextEvent: models.EventClose, NextEventAt: tokyo(t, 3, 15, 0, 0).UTC(),
	}

	require.NoError(t, h.mon.Start(context.Background()))

	st, ok := h.store.get("Japan")
	require.True(t, ok)
	assert.Equal(t, models.StatusClosed, st.Status)
	assert.Equal(t, models.EventOpen, st.NextEvent)
	assert.True(t, tokyo(t, 6, 9, 0, 0).Equal(st.NextEventAt))

	evs := h.sink.all()
	require.Len(t, evs, 1)
	assert.Equal(t, models.TransitionClosed, evs[0].Event)
	assert.Equal(t, "Japan", evs[0].MarketKey)
	assert.NotEmpty(t, evs[0].ID)

	assert.Equal(t, []time.Time{tokyo(t, 6, 9, 0, 0).UTC()}, toUTC(h.clk.Deadlines()))
}

func TestMonitor_ReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t), usaMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))

	saves := h.store.saveCount("Japan")
	events := len(h.sink.all())
	deadlines := h.clk.Deadlines()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.mon.Reconcile(context.Background()))
	}

	assert.Equal(t, saves, h.store.saveCount("Japan"))
	assert.Len(t, h.sink.all(), events)
	assert.Equal(t, deadlines, h.clk.Deadlines())
}

func TestMonitor_LateFireResolvesFromCurrentInstant(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 14, 59, 55), japanMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))

	st, err := h.mon.MarketStatus("Japan")
	require.NoError(t, err)
	require.Equal(t, models.StatusOpen, st.Status)
	assert.Equal(t, int64(5), st.SecondsToNextEvent)

	// the wake-up is delivered 5s after the close
	h.clk.Advance(10 * time.Second)

	st, err = h.mon.MarketStatus("Japan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, st.Status)
	assert.Equal(t, models.EventOpen, st.NextEvent)
	assert.True(t, tokyo(t, 7, 9, 0, 0).Equal(st.NextEventAt), st.NextEventAt.String())

	evs := h.sink.all()
	require.Len(t, evs, 2)
	assert.Equal(t, models.TransitionOpened, evs[0].Event)
	assert.Equal(t, models.TransitionClosed, evs[1].Event)
	assert.True(t, tokyo(t, 6, 15, 0, 0).Equal(evs[1].At))

	assert.Equal(t, []time.Time{tokyo(t, 7, 9, 0, 0).UTC()}, toUTC(h.clk.Deadlines()))
}

func TestMonitor_FullWeekProducesAlternatingEvents(t *testing.T) {
	h := newHarness(t, tokyo(t, 5, 12, 0, 0), japanMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))

	for i := 0; i < 7*24; i++ {
		h.clk.Advance(time.Hour)
		assert.Equal(t, 1, h.clk.Pending())
	}

	evs := h.sink.all()
	require.Len(t, evs, 10)
	for i, ev := range evs {
		want := models.TransitionOpened
		if i%2 == 1 {
			want = models.TransitionClosed
		}
		assert.Equal(t, want, ev.Event, "event %d", i)
	}
}

func TestMonitor_OneTimerPerMarket(t *testing.T) {
	jp := japanMarket(t)
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), jp, usaMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))

	assert.Equal(t, 2, h.clk.Pending())
	assert.Equal(t, 2, h.mon.Pending())

	require.NoError(t, h.mon.Reconcile(context.Background()))
	assert.Equal(t, 2, h.clk.Pending())

	// an earlier close re-arms Japan only
	jp.Close = models.ClockTime{Hour: 14}
	h.source.set(jp, usaMarket(t))
	require.NoError(t, h.mon.Sync(context.Background()))

	assert.Equal(t, 2, h.clk.Pending())
	assert.Contains(t, toUTC(h.clk.Deadlines()), tokyo(t, 6, 14, 0, 0).UTC())
	assert.NotContains(t, toUTC(h.clk.Deadlines()), tokyo(t, 6, 15, 0, 0).UTC())
}

func TestMonitor_StaleFireIsIgnored(t *testing.T) {
	jp := japanMarket(t)
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), jp)
	require.NoError(t, h.mon.Start(context.Background()))

	e, ok := h.mon.entry("Japan")
	require.True(t, ok)
	e.mu.Lock()
	stale := e.gen
	e.mu.Unlock()

	jp.Close = models.ClockTime{Hour: 14}
	h.source.set(jp)
	require.NoError(t, h.mon.Sync(context.Background()))

	saves := h.store.saveCount("Japan")
	h.mon.fire(e, stale)

	assert.Equal(t, saves, h.store.saveCount("Japan"))
	assert.Equal(t, 1, h.clk.Pending())
}

func TestMonitor_StopCancelsEverything(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t), usaMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))
	require.True(t, h.mon.Running())

	events := len(h.sink.all())
	saves := h.store.saveCount("Japan") + h.store.saveCount("USA")

	require.NoError(t, h.mon.Stop(context.Background()))
	assert.False(t, h.mon.Running())
	assert.Equal(t, 0, h.clk.Pending())

	h.clk.Advance(48 * time.Hour)
	assert.Len(t, h.sink.all(), events)
	assert.Equal(t, saves, h.store.saveCount("Japan")+h.store.saveCount("USA"))

	assert.ErrorIs(t, h.mon.Reconcile(context.Background()), ErrMonitorStopped)
	assert.ErrorIs(t, h.mon.Start(context.Background()), ErrMonitorStopped)
	assert.NoError(t, h.mon.Stop(context.Background()))
}

func TestMonitor_FailureIsolation(t *testing.T) {
	broken := market(t, "Nowhere", "UTC", models.ClockTime{Hour: 9}, models.ClockTime{Hour: 17}, 0.1)
	broken.Weekend = []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t), broken)
	require.NoError(t, h.mon.Start(context.Background()))

	jp, err := h.mon.MarketStatus("Japan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, jp.Status)
	assert.Empty(t, jp.Error)

	nw, err := h.mon.MarketStatus("Nowhere")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, nw.Status)
	assert.Contains(t, nw.Error, "no trading day")

	// the broken market retries after RetryDelay
	assert.Contains(t, toUTC(h.clk.Deadlines()), tokyo(t, 6, 10, 1, 0).UTC())
	assert.Equal(t, 2, h.clk.Pending())
}

func TestMonitor_PersistFailureRetriedOnReconcile(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	h.store.failFor["Japan"] = 1

	require.NoError(t, h.mon.Start(context.Background()))

	st, err := h.mon.MarketStatus("Japan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, st.Status, "nothing committed without a save")
	assert.Contains(t, st.Error, "persist")
	assert.Empty(t, h.sink.all())

	require.NoError(t, h.mon.Reconcile(context.Background()))

	st, err = h.mon.MarketStatus("Japan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, st.Status)
	assert.Empty(t, st.Error)
	require.Len(t, h.sink.all(), 1)
	assert.Equal(t, models.TransitionOpened, h.sink.all()[0].Event)
}

func TestMonitor_PublishFailureKeptInOutbox(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	h.sink.fail = 1

	require.NoError(t, h.mon.Start(context.Background()))

	st, ok := h.store.get("Japan")
	require.True(t, ok)
	assert.Equal(t, models.StatusOpen, st.Status, "transition committed before publish")
	assert.Empty(t, h.sink.all())

	status, err := h.mon.MarketStatus("Japan")
	require.NoError(t, err)
	assert.Contains(t, status.Error, "publish")

	require.NoError(t, h.mon.Reconcile(context.Background()))
	evs := h.sink.all()
	require.Len(t, evs, 1)
	assert.Equal(t, models.TransitionOpened, evs[0].Event)

	require.NoError(t, h.mon.Reconcile(context.Background()))
	assert.Len(t, h.sink.all(), 1)
}

func TestMonitor_OutboxDropsOldestWhenFull(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	h.mon.cfg.OutboxLimit = 2
	h.sink.fail = 1000

	require.NoError(t, h.mon.Start(context.Background()))
	// open, close, open, close before Wednesday's open
	for i := 0; i < 46; i++ {
		h.clk.Advance(time.Hour)
	}

	e, ok := h.mon.entry("Japan")
	require.True(t, ok)
	e.mu.Lock()
	pending := append([]models.TransitionEvent(nil), e.outbox...)
	e.mu.Unlock()

	require.Len(t, pending, 2)
	assert.Equal(t, models.TransitionOpened, pending[0].Event)
	assert.Equal(t, models.TransitionClosed, pending[1].Event)
}

func TestMonitor_SyncAddsAndRemovesMarkets(t *testing.T) {
	jp := japanMarket(t)
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), jp)
	require.NoError(t, h.mon.Start(context.Background()))
	jpDeadlines := h.clk.Deadlines()
	jpSaves := h.store.saveCount("Japan")

	h.source.set(jp, usaMarket(t))
	require.NoError(t, h.mon.Sync(context.Background()))

	assert.Equal(t, 2, h.clk.Pending())
	assert.Subset(t, h.clk.Deadlines(), jpDeadlines)
	assert.Equal(t, jpSaves, h.store.saveCount("Japan"))
	_, ok := h.store.get("USA")
	assert.True(t, ok)

	h.source.set(usaMarket(t))
	require.NoError(t, h.mon.Sync(context.Background()))

	assert.Equal(t, 1, h.clk.Pending())
	_, err := h.mon.MarketStatus("Japan")
	assert.ErrorIs(t, err, ErrUnknownMarket)
	assert.Len(t, h.mon.Markets(), 1)

	// deactivated is removed too
	inactive := usaMarket(t)
	inactive.IsActive = false
	h.source.set(inactive)
	require.NoError(t, h.mon.Sync(context.Background()))
	assert.Equal(t, 0, h.clk.Pending())
	assert.Empty(t, h.mon.Statuses())
}

func TestMonitor_SyncErrorKeepsMembership(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))

	h.source.mu.Lock()
	h.source.err = &models.ConfigError{Market: "Japan", Field: "timezone", Err: errors.New("unknown zone")}
	h.source.mu.Unlock()

	err := h.mon.Sync(context.Background())
	var cerr *models.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, h.mon.Markets(), 1)
	assert.Equal(t, 1, h.clk.Pending())
}

func TestMonitor_StartRejectsConfigError(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0))
	h.source.err = &models.ConfigError{Market: "Japan", Field: "open", Err: errors.New("bad clock")}

	err := h.mon.Start(context.Background())
	var cerr *models.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Japan", cerr.Market)
	assert.False(t, h.mon.Running())
	assert.Equal(t, 0, h.clk.Pending())
}

func TestMonitor_StartTwice(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))
	assert.ErrorIs(t, h.mon.Start(context.Background()), ErrMonitorRunning)
}

func TestMonitor_CompositeFromCommittedState(t *testing.T) {
	// 10:00 Tokyo is 20:00 New York the previous evening
	h := newHarness(t, tokyo(t, 7, 10, 0, 0), japanMarket(t), usaMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))

	snap := h.mon.Composite()
	assert.Equal(t, 37.5, snap.Score)
	assert.Equal(t, 1, snap.ActiveMarkets)
	assert.Equal(t, 2, snap.TotalControlMarkets)
	assert.Equal(t, models.SessionAsian, snap.SessionPhase)
}

func TestMonitor_ResolveDoesNotMutate(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))
	saves := h.store.saveCount("Japan")

	res, err := h.mon.Resolve("Japan", tokyo(t, 11, 10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, res.Status())
	assert.Equal(t, saves, h.store.saveCount("Japan"))

	_, err = h.mon.Resolve("Mars", time.Now())
	assert.ErrorIs(t, err, ErrUnknownMarket)
}

func toUTC(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.UTC()
	}
	return out
}

func TestMonitor_SyncBeforeStartDoesNothing(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	handler := NewConfigChangeHandler("marketpulse.config", h.mon, nil, nil)

	require.NoError(t, handler.Handle(context.Background(), []byte(`{"reason":"edit"}`)))
	assert.ErrorIs(t, h.mon.Sync(context.Background()), ErrMonitorNotStarted)

	h.clk.Advance(4 * time.Hour)
	assert.False(t, h.mon.Running())
	assert.Equal(t, 0, h.mon.Pending())
	assert.Equal(t, 0, h.clk.Pending())
	assert.Empty(t, h.sink.all())
	assert.Equal(t, 0, h.store.saveCount("Japan"))
}

func TestMonitor_FailedStartLeavesNothingArmed(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t), usaMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))
	require.Equal(t, 2, h.clk.Pending())

	h.mon.unwind()
	assert.False(t, h.mon.Running())
	assert.Equal(t, 0, h.clk.Pending())
	assert.Equal(t, 0, h.mon.Pending())
	assert.Empty(t, h.mon.Markets())

	require.NoError(t, h.mon.Start(context.Background()))
	assert.Equal(t, 2, h.clk.Pending())
	assert.Equal(t, 2, h.mon.Pending())
}

func TestMonitor_StartRecoversAfterConfigFix(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t))
	h.source.err = &models.ConfigError{Market: "Japan", Field: "open", Err: errors.New("bad clock")}
	require.Error(t, h.mon.Start(context.Background()))

	h.source.mu.Lock()
	h.source.err = nil
	h.source.mu.Unlock()
	require.NoError(t, h.mon.Start(context.Background()))
	assert.True(t, h.mon.Running())
	assert.Equal(t, 1, h.mon.Pending())
}

func TestMonitor_DuplicateKeyRejectedEvenWhenInactive(t *testing.T) {
	inactive := japanMarket(t)
	inactive.IsActive = false
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t), inactive)

	err := h.mon.Start(context.Background())
	var cerr *models.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Japan", cerr.Market)
	assert.Equal(t, "key", cerr.Field)
	assert.Equal(t, 0, h.clk.Pending())
}

func TestMonitor_PendingDoesNotWaitOnBusyMarket(t *testing.T) {
	h := newHarness(t, tokyo(t, 6, 10, 0, 0), japanMarket(t), usaMarket(t))
	require.NoError(t, h.mon.Start(context.Background()))

	e, ok := h.mon.entry("Japan")
	require.True(t, ok)
	e.mu.Lock()
	defer e.mu.Unlock()

	got := make(chan int, 1)
	go func() { got <- h.mon.Pending() }()
	select {
	case n := <-got:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("Pending blocked on a market lock")
	}
}

// overlapStore counts loads that saw every other load in flight at once.
type overlapStore struct {
	*memStore
	want    int32
	n       atomic.Int32
	met     atomic.Int32
	arrived chan struct{}
}

func (s *overlapStore) Load(ctx context.Context, market string) (*models.MarketRuntimeState, error) {
	if s.n.Add(1) == s.want {
		close(s.arrived)
	}
	select {
	case <-s.arrived:
		s.met.Add(1)
	case <-time.After(2 * time.Second):
	}
	return s.memStore.Load(ctx, market)
}

func TestMonitor_StartLoadsMarketsInParallel(t *testing.T) {
	clk := clock.NewFake(tokyo(t, 6, 10, 0, 0))
	store := &overlapStore{memStore: newMemStore(), want: 3, arrived: make(chan struct{})}
	ger := market(t, "Germany", "Europe/Berlin", models.ClockTime{Hour: 9}, models.ClockTime{Hour: 17, Minute: 30}, 0.1)
	mon := NewMarketMonitor(&fakeSource{cfgs: []models.MarketConfig{japanMarket(t), usaMarket(t), ger}},
		store, &recSink{},
		resolver.New(calendar.NewService()),
		composite.New(nil),
		WithClock(clk),
		WithReconcileInterval(0),
		WithParallelism(4),
	)
	t.Cleanup(func() { _ = mon.Stop(context.Background()) })

	require.NoError(t, mon.Start(context.Background()))
	assert.Equal(t, int32(3), store.met.Load())
	assert.Equal(t, 3, mon.Pending())
}
