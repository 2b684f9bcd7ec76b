package usecase

import (
	"sort"
	"time"

	"MarketPulse/internal/domain/models"
)

// MarketStatus answers getMarketStatus from the committed state. Phase and
// holiday flags come from a fresh resolve and are display only.
func (m *MarketMonitor) MarketStatus(key string) (models.MarketStatus, error) {
	e, ok := m.entry(key)
	if !ok {
		return models.MarketStatus{}, ErrUnknownMarket
	}
	return m.statusOf(e.view.Load(), m.clock.Now()), nil
}

// Statuses returns every scheduled market sorted by key.
func (m *MarketMonitor) Statuses() []models.MarketStatus {
	now := m.clock.Now()
	views := m.views()
	out := make([]models.MarketStatus, 0, len(views))
	for _, v := range views {
		out = append(out, m.statusOf(v, now))
	}
	return out
}

func (m *MarketMonitor) statusOf(v *marketView, now time.Time) models.MarketStatus {
	st := models.MarketStatus{
		MarketKey:          v.cfg.Key,
		DisplayName:        v.cfg.DisplayName,
		Status:             v.state.Status,
		NextEvent:          v.state.NextEvent,
		NextEventAt:        v.state.NextEventAt,
		SecondsToNextEvent: models.CeilSeconds(v.state.NextEventAt.Sub(now)),
		UpdatedAt:          v.state.UpdatedAt,
		Error:              v.err,
	}
	res, err := m.resolver.Resolve(v.cfg, now)
	st.Phase = res.Phase
	st.IsHolidayToday = res.IsHolidayToday
	st.HolidayName = res.HolidayName
	// a fire may be in flight; never show an advisory phase that contradicts the gate
	if res.Status() != st.Status {
		st.Phase = models.PhaseClosed
		if st.Status == models.StatusOpen {
			st.Phase = models.PhaseOpen
		}
	}
	if err != nil && st.Error == "" {
		st.Error = err.Error()
	}
	return st
}

// Composite computes the global composite from one snapshot of every
// market's committed state.
func (m *MarketMonitor) Composite() models.CompositeSnapshot {
	views := m.views()
	markets := make([]models.MarketConfig, 0, len(views))
	states := make(map[string]models.MarketRuntimeState, len(views))
	for _, v := range views {
		markets = append(markets, v.cfg)
		states[v.cfg.Key] = v.state
	}
	snap := m.agg.Composite(markets, states, m.clock.Now())
	m.metrics.RecordComposite(snap.Score, snap.ActiveMarkets)
	return snap
}

// Resolve evaluates a scheduled market at an arbitrary instant without
// touching its state.
func (m *MarketMonitor) Resolve(key string, at time.Time) (models.Resolution, error) {
	e, ok := m.entry(key)
	if !ok {
		return models.Resolution{}, ErrUnknownMarket
	}
	return m.resolver.Resolve(e.view.Load().cfg, at)
}

// Market returns the config of a scheduled market.
func (m *MarketMonitor) Market(key string) (models.MarketConfig, bool) {
	e, ok := m.entry(key)
	if !ok {
		return models.MarketConfig{}, false
	}
	return e.view.Load().cfg, true
}

// Markets lists the scheduled markets sorted by key.
func (m *MarketMonitor) Markets() []models.MarketConfig {
	views := m.views()
	out := make([]models.MarketConfig, 0, len(views))
	for _, v := range views {
		out = append(out, v.cfg)
	}
	return out
}

// Pending reports how many markets have a wake-up armed. It reads the
// published views, so a market busy with I/O does not hold it up.
func (m *MarketMonitor) Pending() int {
	n := 0
	for _, v := range m.views() {
		if v.armed {
			n++
		}
	}
	return n
}

// views holds the membership read lock so the set is taken at one instant;
// each view itself is an atomic load and never waits on a market lock.
func (m *MarketMonitor) views() []*marketView {
	m.mu.RLock()
	out := make([]*marketView, 0, len(m.markets))
	for _, e := range m.markets {
		out = append(out, e.view.Load())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.Key < out[j].cfg.Key })
	return out
}

func sortConfigs(cs []models.MarketConfig) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Key < cs[j].Key })
}
