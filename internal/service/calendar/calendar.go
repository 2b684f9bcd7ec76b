package calendar

import (
	"fmt"
	"sort"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/cache"
)

type DayKind string

const (
	DayTrading DayKind = "trading"
	DayWeekend DayKind = "weekend"
	DayHoliday DayKind = "holiday"
	// DayOverride is a date closed by the override table.
	DayOverride DayKind = "override"
)

// DayInfo describes one local date of a market.
type DayInfo struct {
	Date        models.Date
	Kind        DayKind
	HolidayName string
	Open        models.ClockTime
	Close       models.ClockTime
}

func (d DayInfo) TradingDay() bool { return d.Kind == DayTrading }

// IsHoliday is true for closures by rule or override, never for weekends.
func (d DayInfo) IsHoliday() bool { return d.Kind == DayHoliday || d.Kind == DayOverride }

// Window is the absolute trading session of one date, [OpenAt, CloseAt).
type Window struct {
	OpenAt  time.Time
	CloseAt time.Time
}

func (w Window) Contains(t time.Time) bool { return !t.Before(w.OpenAt) && t.Before(w.CloseAt) }

type yearKey struct {
	rules string
	year  int
}

// Service answers trading-day and trading-window questions. It is safe for
// concurrent use; computed holiday years are cached.
type Service struct {
	years *cache.Memo[yearKey, map[models.Date]models.Holiday]
}

func NewService() *Service {
	return &Service{years: cache.NewMemo[yearKey, map[models.Date]models.Holiday]()}
}

func (s *Service) IsTradingDay(m models.MarketConfig, d models.Date) bool {
	return s.DayInfo(m, d).TradingDay()
}

// TradingWindow returns the session of d. ok is false on non-trading days.
func (s *Service) TradingWindow(m models.MarketConfig, d models.Date) (Window, bool) {
	info := s.DayInfo(m, d)
	if !info.TradingDay() {
		return Window{}, false
	}
	loc := location(m)
	return Window{
		OpenAt:  LocalInstant(loc, d, info.Open),
		CloseAt: LocalInstant(loc, d, info.Close),
	}, true
}

// DayInfo classifies d. The override table is consulted first, then the
// weekend, then the computed holiday rules.
func (s *Service) DayInfo(m models.MarketConfig, d models.Date) DayInfo {
	info := DayInfo{Date: d, Kind: DayTrading, Open: m.Open, Close: m.Close}
	if o, ok := findOverride(m.Holidays.Overrides, d); ok {
		info.HolidayName = o.HolidayName
		if !o.IsTradingDay {
			info.Kind = DayOverride
			return info
		}
		if o.Open != nil {
			info.Open = *o.Open
		}
		if o.Close != nil {
			info.Close = *o.Close
		}
		return info
	}
	if m.IsWeekend(d.Weekday()) {
		info.Kind = DayWeekend
		return info
	}
	if h, ok := s.year(m, d.Year)[d]; ok {
		info.Kind = DayHoliday
		info.HolidayName = h.Name
	}
	return info
}

// Holidays lists the non-trading holidays observed in year, overrides
// applied, sorted by date.
func (s *Service) Holidays(m models.MarketConfig, year int) []models.Holiday {
	byDate := make(map[models.Date]models.Holiday)
	for d, h := range s.year(m, year) {
		byDate[d] = h
	}
	for _, o := range m.Holidays.Overrides {
		if o.Date.Year != year {
			continue
		}
		if o.IsTradingDay {
			delete(byDate, o.Date)
			continue
		}
		byDate[o.Date] = models.Holiday{Date: o.Date, Nominal: o.Date, Name: o.HolidayName, Override: true}
	}
	out := make([]models.Holiday, 0, len(byDate))
	for _, h := range byDate {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (s *Service) year(m models.MarketConfig, year int) map[models.Date]models.Holiday {
	r := rulesFor(m.Holidays)
	weekend := m.IsWeekend
	key := yearKey{rules: fmt.Sprintf("%+v|%v", r, m.Weekend), year: year}
	return s.years.GetOrCompute(key, func() map[models.Date]models.Holiday {
		out := make(map[models.Date]models.Holiday)
		// observance can push a holiday across new year
		for y := year - 1; y <= year+1; y++ {
			for _, h := range observedHolidays(r, weekend, y) {
				if h.Date.Year != year {
					continue
				}
				if _, dup := out[h.Date]; !dup {
					out[h.Date] = h
				}
			}
		}
		return out
	})
}

func findOverride(overrides []models.HolidayOverride, d models.Date) (models.HolidayOverride, bool) {
	for _, o := range overrides {
		if o.Date == d {
			return o, true
		}
	}
	return models.HolidayOverride{}, false
}

func location(m models.MarketConfig) *time.Location {
	if m.Location != nil {
		return m.Location
	}
	return time.UTC
}

// LocalInstant converts a local wall-clock time on d to an absolute instant.
// A time skipped by a DST gap resolves with the offset in force before the
// gap, so 02:30 on a spring-forward night becomes 03:30 of the new offset.
// A time repeated by a DST overlap resolves to its second occurrence. Both
// are the later of the two candidate instants.
func LocalInstant(loc *time.Location, d models.Date, c models.ClockTime) time.Time {
	wall := time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, c.Second, 0, time.UTC)
	_, before := wall.Add(-24 * time.Hour).In(loc).Zone()
	_, after := wall.Add(24 * time.Hour).In(loc).Zone()

	candidates := []time.Time{
		wall.Add(-time.Duration(before) * time.Second),
		wall.Add(-time.Duration(after) * time.Second),
	}
	var best, latest time.Time
	for _, t := range candidates {
		if latest.IsZero() || t.After(latest) {
			latest = t
		}
		if sameWall(t.In(loc), wall) && (best.IsZero() || t.After(best)) {
			best = t
		}
	}
	if best.IsZero() {
		best = latest
	}
	return best.In(loc)
}

func sameWall(t, wall time.Time) bool {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	wy, wmo, wd := wall.Date()
	wh, wmi, ws := wall.Clock()
	return y == wy && mo == wmo && d == wd && h == wh && mi == wmi && s == ws
}
