package composite

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"MarketPulse/internal/domain/models"
)

var hundred = decimal.NewFromInt(100)

// Aggregator turns per-market state into the global composite.
type Aggregator struct {
	sessions []models.SessionWindow
}

// New builds an aggregator over the given session buckets. Nil selects
// DefaultSessions.
func New(sessions []models.SessionWindow) *Aggregator {
	if sessions == nil {
		sessions = DefaultSessions()
	}
	return &Aggregator{sessions: sessions}
}

// DefaultSessions are UTC buckets wide enough to cover the regional
// trading days of the usual control markets.
func DefaultSessions() []models.SessionWindow {
	return []models.SessionWindow{
		{Name: models.SessionAsian, StartHour: 23, EndHour: 10, Regions: []string{"ASIAN"}},
		{Name: models.SessionEuropean, StartHour: 7, EndHour: 17, Regions: []string{"EUROPEAN"}},
		{Name: models.SessionAmerican, StartHour: 13, EndHour: 22, Regions: []string{"AMERICAN"}},
	}
}

// Composite computes the snapshot. Only scheduled markets count; a market
// missing from states counts as closed.
func (a *Aggregator) Composite(markets []models.MarketConfig, states map[string]models.MarketRuntimeState, now time.Time) models.CompositeSnapshot {
	total, open := decimal.Zero, decimal.Zero
	openKeys := make(map[string]bool)
	snap := models.CompositeSnapshot{AsOf: now.UTC(), Contributions: []models.Contribution{}}

	for _, m := range markets {
		if !m.Scheduled() {
			continue
		}
		w := decimal.NewFromFloat(m.Weight)
		snap.TotalControlMarkets++
		total = total.Add(w)
		if st, ok := states[m.Key]; ok && st.Status == models.StatusOpen {
			openKeys[m.Key] = true
			open = open.Add(w)
			snap.ActiveMarkets++
			snap.Contributions = append(snap.Contributions, models.Contribution{MarketKey: m.Key, Weight: m.Weight})
		}
	}

	sort.SliceStable(snap.Contributions, func(i, j int) bool {
		ci, cj := snap.Contributions[i], snap.Contributions[j]
		if ci.Weight != cj.Weight {
			return ci.Weight > cj.Weight
		}
		return ci.MarketKey < cj.MarketKey
	})

	score := decimal.Zero
	if total.IsPositive() {
		score = open.Mul(hundred).Div(total)
	}
	score = decimal.Min(decimal.Max(score, decimal.Zero), hundred).Round(4)
	snap.Score = score.InexactFloat64()
	snap.OpenWeight = open.String()
	snap.TotalWeight = total.String()
	snap.SessionPhase = a.SessionPhase(markets, openKeys, now.UTC().Hour())
	return snap
}

// SessionPhase picks the label for a UTC hour. A bucket is live when it
// covers the hour and one of its members is open, or it has no members.
// Two live buckets make OVERLAP.
func (a *Aggregator) SessionPhase(markets []models.MarketConfig, open map[string]bool, hour int) models.SessionPhase {
	region := make(map[string]string, len(markets))
	for _, m := range markets {
		region[m.Key] = m.Region
	}

	var live []models.SessionPhase
	var fallback models.SessionPhase
	for _, w := range a.sessions {
		if !w.Covers(hour) {
			continue
		}
		if fallback == "" {
			fallback = w.Name
		}
		if len(w.Markets) == 0 && len(w.Regions) == 0 {
			live = append(live, w.Name)
			continue
		}
		for key := range open {
			if member(w, key, region[key]) {
				live = append(live, w.Name)
				break
			}
		}
	}

	switch {
	case len(live) > 1:
		return models.SessionOverlap
	case len(live) == 1:
		return live[0]
	case fallback != "":
		return fallback
	default:
		return models.SessionClosed
	}
}

func member(w models.SessionWindow, key, region string) bool {
	for _, k := range w.Markets {
		if k == key {
			return true
		}
	}
	if region == "" {
		return false
	}
	for _, r := range w.Regions {
		if r == region {
			return true
		}
	}
	return false
}
