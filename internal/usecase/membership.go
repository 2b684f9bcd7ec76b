package usecase

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
)

// Sync reloads the market set from the config source and applies the
// difference: new markets are loaded, reconciled and armed; removed or
// deactivated ones are disarmed; changed ones are re-resolved. Markets whose
// config did not change keep their pending timers. On error nothing changes.
func (m *MarketMonitor) Sync(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrMonitorStopped
	}
	if !m.started.Load() {
		return ErrMonitorNotStarted
	}
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	cfgs, err := m.source.Markets(ctx)
	if err != nil {
		var cerr *models.ConfigError
		if errors.As(err, &cerr) {
			m.metrics.RecordError(cerr.Market, "config")
		}
		return fmt.Errorf("load markets: %w", err)
	}

	seen := make(map[string]struct{}, len(cfgs))
	desired := make(map[string]models.MarketConfig, len(cfgs))
	for _, c := range cfgs {
		if _, dup := seen[c.Key]; dup {
			return &models.ConfigError{Market: c.Key, Field: "key", Err: errors.New("duplicate market key")}
		}
		seen[c.Key] = struct{}{}
		if c.Scheduled() {
			desired[c.Key] = c
		}
	}

	var added, removed, changed int
	for _, e := range m.entries() {
		cfg, keep := desired[e.key]
		if !keep {
			m.remove(e)
			removed++
			continue
		}
		delete(desired, e.key)

		e.mu.Lock()
		if !e.cfg.Equal(cfg) && !e.removed && !m.stopped.Load() {
			e.cfg = cfg
			e.disarm()
			m.step(ctx, e)
			changed++
			e.log.Info("market config changed, re-armed")
		}
		e.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for _, cfg := range sortedConfigs(desired) {
		e := newEntry(cfg, m.log)
		g.Go(func() error {
			m.loadState(gctx, e)

			m.mu.Lock()
			if m.stopped.Load() {
				m.mu.Unlock()
				return ErrMonitorStopped
			}
			m.markets[e.key] = e
			m.mu.Unlock()

			m.reconcileEntry(gctx, e, true)
			return nil
		})
		added++
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if added+removed+changed > 0 {
		m.log.Info("market set synced",
			logger.Int("added", added),
			logger.Int("removed", removed),
			logger.Int("changed", changed),
			logger.Int("total", m.count()),
		)
	}
	return nil
}

func (m *MarketMonitor) remove(e *marketEntry) {
	e.mu.Lock()
	e.removed = true
	e.disarm()
	e.publishView()
	e.mu.Unlock()

	m.mu.Lock()
	if cur, ok := m.markets[e.key]; ok && cur == e {
		delete(m.markets, e.key)
	}
	m.mu.Unlock()
	m.metrics.RecordMarketOpen(e.key, false)
	e.log.Info("market no longer scheduled, disarmed")
}

// loadState seeds e from the store. A missing record starts CLOSED; a read
// failure is logged and the next successful save repairs the store.
func (m *MarketMonitor) loadState(ctx context.Context, e *marketEntry) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.IOTimeout)
	defer cancel()

	s, err := m.store.Load(cctx, e.key)
	if err != nil {
		m.metrics.RecordError(e.key, "persist")
		e.log.Error("state load failed, starting from CLOSED",
			logger.Error(&models.PersistenceError{Market: e.key, Op: "load", Err: err}))
		return
	}
	if s == nil {
		return
	}
	loaded := *s
	loaded.MarketKey = e.key
	if loaded.Status != models.StatusOpen {
		loaded.Status = models.StatusClosed
	}
	e.state = loaded
	e.persisted = &loaded
	e.publishView()
}

func sortedConfigs(in map[string]models.MarketConfig) []models.MarketConfig {
	out := make([]models.MarketConfig, 0, len(in))
	for _, c := range in {
		out = append(out, c)
	}
	sortConfigs(out)
	return out
}
