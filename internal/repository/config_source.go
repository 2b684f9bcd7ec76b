package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/util"
)

// FileConfigSource reads market configuration from a YAML markets file on
// every call, so edits are picked up by the next Sync.
type FileConfigSource struct {
	path string
}

func NewFileConfigSource(path string) *FileConfigSource {
	return &FileConfigSource{path: path}
}

func (s *FileConfigSource) Markets(ctx context.Context) ([]models.MarketConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := config.LoadMarkets(s.path)
	if err != nil {
		return nil, &models.ConfigError{Field: s.path, Err: err}
	}
	return ConvertMarkets(f)
}

var _ domrepo.ConfigSource = (*FileConfigSource)(nil)

// StaticConfigSource serves a fixed list.
type StaticConfigSource []models.MarketConfig

func (s StaticConfigSource) Markets(context.Context) ([]models.MarketConfig, error) {
	return append([]models.MarketConfig(nil), s...), nil
}

// ConvertMarkets turns the file shape into validated domain configs. The
// first problem found is returned as a *models.ConfigError.
func ConvertMarkets(f *config.MarketsFile) ([]models.MarketConfig, error) {
	out := make([]models.MarketConfig, 0, len(f.Markets))
	seen := make(map[string]bool, len(f.Markets))
	for _, e := range f.Markets {
		if seen[e.Key] {
			return nil, &models.ConfigError{Market: e.Key, Field: "key", Err: errors.New("duplicate market key")}
		}
		seen[e.Key] = true

		m, err := convertMarket(e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func convertMarket(e config.MarketEntry) (models.MarketConfig, error) {
	fail := func(field string, err error) (models.MarketConfig, error) {
		return models.MarketConfig{}, &models.ConfigError{Market: e.Key, Field: field, Err: err}
	}

	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return fail("timezone", err)
	}
	open, err := parseClock(e.Open)
	if err != nil {
		return fail("open", err)
	}
	closeAt, err := parseClock(e.Close)
	if err != nil {
		return fail("close", err)
	}
	if !open.Before(closeAt) {
		return fail("close", fmt.Errorf("session %s-%s must close after it opens on the same day", open, closeAt))
	}
	if e.Weight < 0 || e.Weight > 1 {
		return fail("weight", fmt.Errorf("%v outside [0, 1]", e.Weight))
	}

	weekend := make([]time.Weekday, 0, len(e.Weekend))
	for _, w := range e.Weekend {
		wd, err := util.ParseWeekday(w)
		if err != nil {
			return fail("weekend", err)
		}
		weekend = append(weekend, wd)
	}
	if len(weekend) == 7 {
		return fail("weekend", errors.New("every day is a weekend"))
	}

	hc, field, err := convertHolidays(e.Holidays, open, closeAt)
	if err != nil {
		return fail(field, err)
	}

	name := e.DisplayName
	if name == "" {
		name = e.Key
	}
	return models.MarketConfig{
		Key:             e.Key,
		DisplayName:     name,
		Timezone:        e.Timezone,
		Location:        loc,
		Open:            open,
		Close:           closeAt,
		Weight:          e.Weight,
		IsControlMarket: e.ControlMarket(),
		IsActive:        e.Active(),
		Region:          strings.ToUpper(e.Region),
		Weekend:         weekend,
		Holidays:        hc,
	}, nil
}

func convertHolidays(h config.HolidaysEntry, open, closeAt models.ClockTime) (models.HolidayCalendar, string, error) {
	hc := models.HolidayCalendar{Preset: h.Preset, Observance: models.Observance(h.Observance)}
	if h.Preset != "" && !calendar.HasPreset(h.Preset) {
		return hc, "holidays.preset", fmt.Errorf("unknown preset %q, want one of %s", h.Preset, strings.Join(calendar.PresetNames(), ", "))
	}

	for _, f := range h.Fixed {
		m, err := util.ParseMonth(f.Month)
		if err != nil {
			return hc, "holidays.fixed", err
		}
		if f.Day > daysIn(m) {
			return hc, "holidays.fixed", fmt.Errorf("%s has no day %d", m, f.Day)
		}
		hc.Fixed = append(hc.Fixed, models.FixedHoliday{Name: f.Name, Month: m, Day: f.Day, SkipObservance: f.SkipObservance})
	}
	for _, n := range h.NthWeekday {
		m, err := util.ParseMonth(n.Month)
		if err != nil {
			return hc, "holidays.nth_weekday", err
		}
		wd, err := util.ParseWeekday(n.Weekday)
		if err != nil {
			return hc, "holidays.nth_weekday", err
		}
		hc.NthWeekday = append(hc.NthWeekday, models.NthWeekdayHoliday{Name: n.Name, Month: m, Weekday: wd, N: n.N, OnOrBefore: n.OnOrBefore})
	}
	for _, e := range h.Easter {
		hc.Easter = append(hc.Easter, models.EasterHoliday{Name: e.Name, Offset: e.Offset, Julian: e.Julian})
	}

	seen := make(map[models.Date]bool, len(h.Overrides))
	for _, o := range h.Overrides {
		d, err := models.ParseDate(o.Date)
		if err != nil {
			return hc, "holidays.overrides", err
		}
		if seen[d] {
			return hc, "holidays.overrides", fmt.Errorf("duplicate override for %s", d)
		}
		seen[d] = true

		ov := models.HolidayOverride{Date: d, IsTradingDay: o.IsTradingDay, HolidayName: o.HolidayName}
		if o.Open != "" || o.Close != "" {
			if !o.IsTradingDay {
				return hc, "holidays.overrides", fmt.Errorf("%s: session hours on a closed day", d)
			}
			from, to := open, closeAt
			if o.Open != "" {
				if from, err = parseClock(o.Open); err != nil {
					return hc, "holidays.overrides", err
				}
				ov.Open = &from
			}
			if o.Close != "" {
				if to, err = parseClock(o.Close); err != nil {
					return hc, "holidays.overrides", err
				}
				ov.Close = &to
			}
			if !from.Before(to) {
				return hc, "holidays.overrides", fmt.Errorf("%s: session %s-%s must close after it opens", d, from, to)
			}
		}
		hc.Overrides = append(hc.Overrides, ov)
	}
	return hc, "", nil
}

func parseClock(s string) (models.ClockTime, error) {
	h, m, sec, err := util.ParseClock(s)
	if err != nil {
		return models.ClockTime{}, err
	}
	return models.ClockTime{Hour: h, Minute: m, Second: sec}, nil
}

func daysIn(m time.Month) int {
	// leap year so Feb 29 is allowed
	return time.Date(2024, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
