package resolver

import (
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/calendar"
)

const (
	DefaultMaxScanDays    = 14
	DefaultAdvisoryWindow = 15 * time.Minute
)

// Calendar is the part of calendar.Service the resolver needs.
type Calendar interface {
	DayInfo(m models.MarketConfig, d models.Date) calendar.DayInfo
	TradingWindow(m models.MarketConfig, d models.Date) (calendar.Window, bool)
}

type Option func(*Resolver)

// WithMaxScanDays bounds the forward search for the next trading day.
func WithMaxScanDays(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxScanDays = n
		}
	}
}

// WithAdvisoryWindow sets how close to a boundary PREOPEN/PRECLOSE start.
// Zero disables both.
func WithAdvisoryWindow(d time.Duration) Option {
	return func(r *Resolver) {
		if d >= 0 {
			r.advisory = d
		}
	}
}

// Resolver derives a market's phase and next transition from the wall clock.
type Resolver struct {
	cal         Calendar
	maxScanDays int
	advisory    time.Duration
}

func New(cal Calendar, opts ...Option) *Resolver {
	r := &Resolver{cal: cal, maxScanDays: DefaultMaxScanDays, advisory: DefaultAdvisoryWindow}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve evaluates m at now. The session is the half-open [openAt, closeAt).
// A *models.ResolutionError is returned with a CLOSED resolution when no
// trading day exists inside the scan bound.
func (r *Resolver) Resolve(m models.MarketConfig, now time.Time) (models.Resolution, error) {
	today := models.DateOf(now.In(location(m)))
	info := r.cal.DayInfo(m, today)
	res := models.Resolution{
		MarketKey:      m.Key,
		TradingDay:     info.TradingDay(),
		IsHolidayToday: info.IsHoliday(),
		HolidayName:    info.HolidayName,
		ResolvedAt:     now,
	}

	if !info.TradingDay() {
		res.Phase = models.PhaseHolidayClosed
		return r.nextOpen(m, res, today, now)
	}

	w, _ := r.cal.TradingWindow(m, today)
	res.OpenAt, res.CloseAt = w.OpenAt, w.CloseAt
	switch {
	case now.Before(w.OpenAt):
		res.Phase = models.PhaseClosed
		if r.advisory > 0 && w.OpenAt.Sub(now) <= r.advisory {
			res.Phase = models.PhasePreOpen
		}
		return next(res, models.EventOpen, w.OpenAt, now), nil
	case now.Before(w.CloseAt):
		res.Phase = models.PhaseOpen
		if r.advisory > 0 && w.CloseAt.Sub(now) <= r.advisory {
			res.Phase = models.PhasePreClose
		}
		return next(res, models.EventClose, w.CloseAt, now), nil
	default:
		res.Phase = models.PhaseClosed
		return r.nextOpen(m, res, today, now)
	}
}

func (r *Resolver) nextOpen(m models.MarketConfig, res models.Resolution, today models.Date, now time.Time) (models.Resolution, error) {
	for i := 1; i <= r.maxScanDays; i++ {
		d := today.AddDays(i)
		if w, ok := r.cal.TradingWindow(m, d); ok {
			return next(res, models.EventOpen, w.OpenAt, now), nil
		}
	}
	res.NextEvent = models.EventOpen
	return res, &models.ResolutionError{Market: m.Key, From: today, Days: r.maxScanDays}
}

func next(res models.Resolution, kind models.EventKind, at, now time.Time) models.Resolution {
	res.NextEvent = kind
	res.NextEventAt = at.UTC()
	res.Until = at.Sub(now)
	return res
}

func location(m models.MarketConfig) *time.Location {
	if m.Location != nil {
		return m.Location
	}
	return time.UTC
}
