package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/clock"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
)

var (
	ErrUnknownMarket  = errors.New("unknown market")
	ErrMonitorRunning = errors.New("monitor already started")
	ErrMonitorStopped = errors.New("monitor stopped")

	// ErrMonitorNotStarted is returned by Sync before Start succeeded.
	ErrMonitorNotStarted = errors.New("monitor not started")
)

// Resolver derives a market's phase at an instant.
type Resolver interface {
	Resolve(m models.MarketConfig, now time.Time) (models.Resolution, error)
}

// Aggregator computes the composite over a state snapshot.
type Aggregator interface {
	Composite(markets []models.MarketConfig, states map[string]models.MarketRuntimeState, now time.Time) models.CompositeSnapshot
}

type MonitorConfig struct {
	// ReconcileInterval drives the periodic Sync+Reconcile job. Zero disables it.
	ReconcileInterval time.Duration
	// RetryDelay re-arms a market whose next transition could not be resolved.
	RetryDelay    time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	IOTimeout     time.Duration
	OutboxLimit   int
	Parallelism   int
}

type MonitorOption func(*MarketMonitor)

func WithClock(c clock.Clock) MonitorOption {
	return func(m *MarketMonitor) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithMetrics(r domrepo.Metrics) MonitorOption {
	return func(m *MarketMonitor) {
		if r != nil {
			m.metrics = r
		}
	}
}

func WithLogger(l *logger.Logger) MonitorOption {
	return func(m *MarketMonitor) {
		if l != nil {
			m.log = l.Component("monitor")
		}
	}
}

// WithReconcileInterval sets the period of the drift-correction job.
func WithReconcileInterval(d time.Duration) MonitorOption {
	return func(m *MarketMonitor) {
		if d >= 0 {
			m.cfg.ReconcileInterval = d
		}
	}
}

// WithRetry bounds persistence and publish retries.
func WithRetry(attempts int, backoff time.Duration) MonitorOption {
	return func(m *MarketMonitor) {
		if attempts > 0 {
			m.cfg.RetryAttempts = attempts
		}
		if backoff >= 0 {
			m.cfg.RetryBackoff = backoff
		}
	}
}

func WithIOTimeout(d time.Duration) MonitorOption {
	return func(m *MarketMonitor) {
		if d > 0 {
			m.cfg.IOTimeout = d
		}
	}
}

func WithOutboxLimit(n int) MonitorOption {
	return func(m *MarketMonitor) {
		if n > 0 {
			m.cfg.OutboxLimit = n
		}
	}
}

func WithRetryDelay(d time.Duration) MonitorOption {
	return func(m *MarketMonitor) {
		if d > 0 {
			m.cfg.RetryDelay = d
		}
	}
}

// WithParallelism bounds how many markets Reconcile resolves at once.
func WithParallelism(n int) MonitorOption {
	return func(m *MarketMonitor) {
		if n > 0 {
			m.cfg.Parallelism = n
		}
	}
}

// MarketMonitor owns one timer per scheduled market and is the only writer
// of MarketRuntimeState.
type MarketMonitor struct {
	source   domrepo.ConfigSource
	store    domrepo.StateStore
	sink     domrepo.EventSink
	resolver Resolver
	agg      Aggregator
	clock    clock.Clock
	metrics  domrepo.Metrics
	log      *logger.Logger
	cfg      MonitorConfig

	mu      sync.RWMutex
	markets map[string]*marketEntry

	syncMu  sync.Mutex
	started atomic.Bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	cron    *cron.Cron
}

func NewMarketMonitor(
	source domrepo.ConfigSource,
	store domrepo.StateStore,
	sink domrepo.EventSink,
	resolver Resolver,
	agg Aggregator,
	opts ...MonitorOption,
) *MarketMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MarketMonitor{
		source:   source,
		store:    store,
		sink:     sink,
		resolver: resolver,
		agg:      agg,
		clock:    clock.New(),
		metrics:  metrics.Nop{},
		log:      logger.NewNop(),
		cfg: MonitorConfig{
			ReconcileInterval: time.Minute,
			RetryDelay:        time.Minute,
			RetryAttempts:     3,
			RetryBackoff:      200 * time.Millisecond,
			IOTimeout:         5 * time.Second,
			OutboxLimit:       64,
			Parallelism:       8,
		},
		markets: make(map[string]*marketEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start loads the market set, reconciles every market against the current
// instant and arms its timer. A configuration error is returned as is and
// leaves the monitor unstarted.
func (m *MarketMonitor) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrMonitorStopped
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}
	if err := m.Sync(ctx); err != nil {
		m.unwind()
		return fmt.Errorf("initial market load: %w", err)
	}

	if m.cfg.ReconcileInterval > 0 {
		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		spec := fmt.Sprintf("@every %s", m.cfg.ReconcileInterval)
		if _, err := c.AddFunc(spec, m.tick); err != nil {
			m.unwind()
			return fmt.Errorf("schedule reconcile: %w", err)
		}
		m.cron = c
		m.cron.Start()
	}

	m.log.Info("monitor started",
		logger.Int("markets", m.count()),
		logger.Duration("reconcile_interval_ms", m.cfg.ReconcileInterval),
	)
	return nil
}

// unwind undoes a failed Start: every armed market is disarmed and dropped
// so a later Start begins from an empty set.
func (m *MarketMonitor) unwind() {
	m.mu.Lock()
	es := make([]*marketEntry, 0, len(m.markets))
	for _, e := range m.markets {
		es = append(es, e)
	}
	m.markets = make(map[string]*marketEntry)
	m.mu.Unlock()

	for _, e := range es {
		e.mu.Lock()
		e.removed = true
		e.disarm()
		e.publishView()
		e.mu.Unlock()
	}
	m.started.Store(false)
}

// tick is the periodic drift-correction job.
func (m *MarketMonitor) tick() {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ReconcileInterval)
	defer cancel()
	start := time.Now()
	if err := m.Sync(ctx); err != nil {
		m.log.Warn("periodic market sync failed, keeping current set", logger.Error(err))
	}
	if err := m.Reconcile(ctx); err != nil {
		m.log.Warn("periodic reconcile interrupted", logger.Error(err))
	}
	m.metrics.RecordLatency("reconcile_tick", time.Since(start).Seconds())
}

// Stop cancels every pending wake-up. No state is written after it returns.
func (m *MarketMonitor) Stop(ctx context.Context) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()

	if m.cron != nil {
		select {
		case <-m.cron.Stop().Done():
		case <-ctx.Done():
			m.log.Warn("reconcile job still running at shutdown")
		}
	}

	// taking each market lock waits out any fire or reconcile in progress
	for _, e := range m.entries() {
		e.mu.Lock()
		e.disarm()
		e.publishView()
		e.mu.Unlock()
	}
	m.log.Info("monitor stopped")
	return nil
}

// Reconcile re-resolves every market against the current instant and
// corrects any drift. Markets run in parallel; a failure in one market is
// logged for that market and does not affect the others.
func (m *MarketMonitor) Reconcile(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrMonitorStopped
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for _, e := range m.entries() {
		e := e
		g.Go(func() error {
			m.reconcileEntry(gctx, e, false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *MarketMonitor) reconcileEntry(ctx context.Context, e *marketEntry, rearm bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.stopped.Load() || e.removed {
		return
	}
	if rearm {
		e.disarm()
	}
	m.step(ctx, e)
}

// Running reports whether Start succeeded and Stop has not been called.
func (m *MarketMonitor) Running() bool { return m.started.Load() && !m.stopped.Load() }

func (m *MarketMonitor) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.markets)
}

// entries returns the current markets sorted by key.
func (m *MarketMonitor) entries() []*marketEntry {
	m.mu.RLock()
	out := make([]*marketEntry, 0, len(m.markets))
	for _, e := range m.markets {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (m *MarketMonitor) entry(key string) (*marketEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.markets[key]
	return e, ok
}
