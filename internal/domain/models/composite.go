package models

import "time"

type SessionPhase string

const (
	SessionAsian    SessionPhase = "ASIAN"
	SessionEuropean SessionPhase = "EUROPEAN"
	SessionAmerican SessionPhase = "AMERICAN"
	SessionOverlap  SessionPhase = "OVERLAP"
	SessionClosed   SessionPhase = "CLOSED"
)

// SessionWindow is a UTC hour bucket. EndHour is exclusive and may be
// smaller than StartHour for a bucket that wraps midnight.
type SessionWindow struct {
	Name      SessionPhase
	StartHour int
	EndHour   int
	Markets   []string
	Regions   []string
}

func (w SessionWindow) Covers(hour int) bool {
	if w.StartHour == w.EndHour {
		return true
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

type Contribution struct {
	MarketKey string  `json:"market_key"`
	Weight    float64 `json:"weight"`
}

type CompositeSnapshot struct {
	Score               float64        `json:"score"`
	ActiveMarkets       int            `json:"active_markets"`
	TotalControlMarkets int            `json:"total_control_markets"`
	SessionPhase        SessionPhase   `json:"session_phase"`
	Contributions       []Contribution `json:"contributions"`
	OpenWeight          string         `json:"open_weight"`
	TotalWeight         string         `json:"total_weight"`
	AsOf                time.Time      `json:"as_of"`
}
