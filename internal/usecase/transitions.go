package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/clock"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

// marketEntry is the single-writer record of one market. Every field except
// view is guarded by mu.
type marketEntry struct {
	key string
	log *logger.Logger

	mu        sync.Mutex
	cfg       models.MarketConfig
	state     models.MarketRuntimeState
	persisted *models.MarketRuntimeState
	outbox    []models.TransitionEvent
	timer     clock.Timer
	armedAt   time.Time
	gen       uint64
	removed   bool
	lastErr   error

	view atomic.Pointer[marketView]
}

// marketView is an immutable copy for readers that must not wait on mu.
type marketView struct {
	cfg   models.MarketConfig
	state models.MarketRuntimeState
	err   string
	armed bool
}

func newEntry(cfg models.MarketConfig, log *logger.Logger) *marketEntry {
	e := &marketEntry{
		key:   cfg.Key,
		log:   log.With(logger.Market(cfg.Key)),
		cfg:   cfg,
		state: models.MarketRuntimeState{MarketKey: cfg.Key, Status: models.StatusClosed},
	}
	e.publishView()
	return e
}

func (e *marketEntry) publishView() {
	v := &marketView{cfg: e.cfg, state: e.state, armed: e.timer != nil}
	if e.lastErr != nil {
		v.err = e.lastErr.Error()
	}
	e.view.Store(v)
}

// disarm cancels the pending wake-up and invalidates any callback already
// on its way.
func (e *marketEntry) disarm() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.armedAt = time.Time{}
}

// step resolves, applies and re-arms one market. Caller holds e.mu.
func (m *MarketMonitor) step(ctx context.Context, e *marketEntry) {
	now := m.clock.Now()
	res, err := m.resolver.Resolve(e.cfg, now)
	e.lastErr = nil
	if err != nil {
		var rerr *models.ResolutionError
		if errors.As(err, &rerr) {
			m.metrics.RecordError(e.key, "resolution")
		}
		e.lastErr = err
		e.log.Error("cannot resolve next transition, treating market as closed", logger.Error(err))
	}

	// older undelivered events go out before anything new
	m.flushOutbox(ctx, e)
	m.apply(ctx, e, res, now)
	m.arm(e, res, now, err != nil)
	e.publishView()
}

func (m *MarketMonitor) apply(ctx context.Context, e *marketEntry, res models.Resolution, now time.Time) {
	next := models.MarketRuntimeState{
		MarketKey:   e.key,
		Status:      res.Status(),
		NextEvent:   res.NextEvent,
		NextEventAt: res.NextEventAt,
		UpdatedAt:   now.UTC(),
	}

	if next.Status == e.state.Status {
		if e.state.SameSchedule(next) && e.persisted != nil && e.persisted.SameSchedule(next) {
			return
		}
		e.state = next
		if err := m.persist(ctx, e, next); err != nil {
			e.log.Warn("schedule not persisted, will retry on next reconcile", logger.Error(err))
		}
		return
	}

	// nothing is committed until the store accepted it
	if err := m.persist(ctx, e, next); err != nil {
		e.lastErr = err
		e.log.Error("transition not persisted, will retry on next reconcile",
			logger.String("from", string(e.state.Status)),
			logger.String("to", string(next.Status)),
			logger.Error(err),
		)
		return
	}
	prev := e.state
	e.state = next
	m.metrics.RecordMarketOpen(e.key, next.Status == models.StatusOpen)

	ev := models.NewTransitionEvent(e.key, next.Status, transitionAt(prev, res, now), res.Phase, now)
	m.metrics.RecordTransition(e.key, ev.Event)
	e.log.Info(ev.Name(),
		logger.String("phase", string(res.Phase)),
		logger.Time("at", ev.At),
		logger.Time("next_event_at", next.NextEventAt),
	)
	m.enqueue(e, ev)
	m.flushOutbox(ctx, e)
}

// transitionAt picks the boundary the transition belongs to: the boundary
// the previous state was waiting for, else today's open, else now.
func transitionAt(prev models.MarketRuntimeState, res models.Resolution, now time.Time) time.Time {
	wantKind := models.EventClose
	if res.Status() == models.StatusOpen {
		wantKind = models.EventOpen
	}
	if prev.NextEvent == wantKind && !prev.NextEventAt.IsZero() && !prev.NextEventAt.After(now) {
		return prev.NextEventAt
	}
	if wantKind == models.EventOpen && !res.OpenAt.IsZero() && !res.OpenAt.After(now) {
		return res.OpenAt
	}
	if wantKind == models.EventClose && !res.CloseAt.IsZero() && !res.CloseAt.After(now) {
		return res.CloseAt
	}
	return now
}

func (m *MarketMonitor) persist(ctx context.Context, e *marketEntry, s models.MarketRuntimeState) error {
	start := time.Now()
	err := util.RetryNotify(ctx, m.cfg.RetryAttempts, m.cfg.RetryBackoff, func() error {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.IOTimeout)
		defer cancel()
		return m.store.Save(cctx, s)
	}, func(attempt int, err error) {
		e.log.Warn("state save failed", logger.Int("attempt", attempt), logger.Error(err))
	})
	m.metrics.RecordLatency("state_save", time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordError(e.key, "persist")
		return &models.PersistenceError{Market: e.key, Op: "save", Err: err}
	}
	saved := s
	e.persisted = &saved
	return nil
}

func (m *MarketMonitor) enqueue(e *marketEntry, ev models.TransitionEvent) {
	if len(e.outbox) >= m.cfg.OutboxLimit {
		dropped := e.outbox[0]
		e.outbox = e.outbox[1:]
		m.metrics.RecordError(e.key, "outbox_overflow")
		e.log.Error("outbox full, dropping oldest undelivered event",
			logger.String("event_id", dropped.ID),
			logger.String("event", dropped.Name()),
			logger.Time("at", dropped.At),
		)
	}
	e.outbox = append(e.outbox, ev)
}

// flushOutbox delivers queued events in order and stops at the first failure.
func (m *MarketMonitor) flushOutbox(ctx context.Context, e *marketEntry) {
	for len(e.outbox) > 0 {
		ev := e.outbox[0]
		start := time.Now()
		err := util.RetryNotify(ctx, m.cfg.RetryAttempts, m.cfg.RetryBackoff, func() error {
			cctx, cancel := context.WithTimeout(ctx, m.cfg.IOTimeout)
			defer cancel()
			return m.sink.Publish(cctx, ev)
		}, func(attempt int, err error) {
			e.log.Warn("event publish failed", logger.Int("attempt", attempt), logger.String("event_id", ev.ID), logger.Error(err))
		})
		m.metrics.RecordLatency("event_publish", time.Since(start).Seconds())
		if err != nil {
			perr := &models.PublishError{Market: e.key, Event: ev.Event, At: ev.At, Err: err}
			e.lastErr = perr
			m.metrics.RecordError(e.key, "publish")
			e.log.Error("event kept in outbox, will retry on next reconcile",
				logger.Int("pending", len(e.outbox)),
				logger.Error(perr),
			)
			return
		}
		e.outbox = e.outbox[1:]
	}
}

// arm schedules the single pending wake-up of e. An unchanged deadline keeps
// the existing timer.
func (m *MarketMonitor) arm(e *marketEntry, res models.Resolution, now time.Time, failed bool) {
	deadline := res.NextEventAt
	if failed || deadline.IsZero() {
		deadline = now.Add(m.cfg.RetryDelay)
	}
	if e.timer != nil && e.armedAt.Equal(deadline) {
		return
	}
	e.disarm()
	gen := e.gen
	delay := deadline.Sub(now)
	if delay < 0 {
		delay = 0
	}
	e.armedAt = deadline
	e.timer = m.clock.AfterFunc(delay, func() { m.fire(e, gen) })
	e.log.Debug("armed",
		logger.String("next_event", string(res.NextEvent)),
		logger.Time("deadline", deadline),
		logger.Duration("in_ms", delay),
	)
}

// fire runs on wake-up and re-resolves from the current instant rather than
// trusting what was computed at arm time.
func (m *MarketMonitor) fire(e *marketEntry, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.stopped.Load() || e.removed || gen != e.gen {
		return
	}
	e.timer = nil
	m.metrics.RecordFire(e.key, m.clock.Now().Sub(e.armedAt))
	m.step(m.ctx, e)
}
