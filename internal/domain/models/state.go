package models

import (
	"math"
	"time"
)

// Phase is the display state of a market. Only Status gates capture.
type Phase string

const (
	PhaseOpen          Phase = "OPEN"
	PhasePreOpen       Phase = "PREOPEN"
	PhasePreClose      Phase = "PRECLOSE"
	PhaseClosed        Phase = "CLOSED"
	PhaseHolidayClosed Phase = "HOLIDAY_CLOSED"
)

func (p Phase) Status() Status {
	if p == PhaseOpen || p == PhasePreClose {
		return StatusOpen
	}
	return StatusClosed
}

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

type EventKind string

const (
	EventOpen  EventKind = "open"
	EventClose EventKind = "close"
)

// MarketRuntimeState is the last committed state of a market.
type MarketRuntimeState struct {
	MarketKey   string    `json:"market_key"`
	Status      Status    `json:"status"`
	NextEvent   EventKind `json:"next_event,omitempty"`
	NextEventAt time.Time `json:"next_event_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SameSchedule reports whether two states would be persisted identically.
func (s MarketRuntimeState) SameSchedule(o MarketRuntimeState) bool {
	return s.MarketKey == o.MarketKey && s.Status == o.Status &&
		s.NextEvent == o.NextEvent && s.NextEventAt.Equal(o.NextEventAt)
}

// Resolution is the result of resolving a market at one instant.
type Resolution struct {
	MarketKey      string
	Phase          Phase
	NextEvent      EventKind
	NextEventAt    time.Time
	Until          time.Duration
	TradingDay     bool
	IsHolidayToday bool
	HolidayName    string
	OpenAt         time.Time
	CloseAt        time.Time
	ResolvedAt     time.Time
}

func (r Resolution) Status() Status { return r.Phase.Status() }

func (r Resolution) SecondsToNextEvent() float64 { return r.Until.Seconds() }

// MarketStatus is the answer to a status query.
type MarketStatus struct {
	MarketKey          string    `json:"market_key"`
	DisplayName        string    `json:"display_name"`
	Status             Status    `json:"status"`
	Phase              Phase     `json:"phase"`
	NextEvent          EventKind `json:"next_event,omitempty"`
	NextEventAt        time.Time `json:"next_event_at"`
	SecondsToNextEvent int64     `json:"seconds_to_next_event"`
	IsHolidayToday     bool      `json:"is_holiday_today"`
	HolidayName        string    `json:"holiday_name,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
	Error              string    `json:"error,omitempty"`
}

// CeilSeconds rounds d up to whole seconds, never below zero.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
