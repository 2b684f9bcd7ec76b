package models

import (
	"time"

	"github.com/google/uuid"
)

type TransitionKind string

const (
	TransitionOpened TransitionKind = "opened"
	TransitionClosed TransitionKind = "closed"
)

// TransitionEvent is published once per committed status change.
type TransitionEvent struct {
	ID        string         `json:"id"`
	Event     TransitionKind `json:"event"`
	MarketKey string         `json:"market_key"`
	At        time.Time      `json:"at"`
	Phase     Phase          `json:"phase"`
	EmittedAt time.Time      `json:"emitted_at"`
}

func NewTransitionEvent(market string, to Status, at time.Time, phase Phase, now time.Time) TransitionEvent {
	kind := TransitionClosed
	if to == StatusOpen {
		kind = TransitionOpened
	}
	return TransitionEvent{
		ID:        uuid.NewString(),
		Event:     kind,
		MarketKey: market,
		At:        at.UTC(),
		Phase:     phase,
		EmittedAt: now.UTC(),
	}
}

// Name is the event name used on logs and metrics, e.g. market_opened.
func (e TransitionEvent) Name() string { return "market_" + string(e.Event) }
