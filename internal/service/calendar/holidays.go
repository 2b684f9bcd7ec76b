package calendar

import (
	"sort"
	"time"

	"MarketPulse/internal/domain/models"
)

// GregorianEaster returns Easter Sunday using the anonymous Gregorian computus.
func GregorianEaster(year int) models.Date {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	n := h + l - 7*m + 114
	return models.NewDate(year, time.Month(n/31), n%31+1)
}

// JulianEaster returns Orthodox Easter Sunday expressed as a Gregorian date.
func JulianEaster(year int) models.Date {
	a := year % 4
	b := year % 7
	c := year % 19
	d := (19*c + 15) % 30
	e := (2*a + 4*b - d + 34) % 7
	n := d + e + 114
	// Julian to Gregorian offset for the century
	shift := year/100 - year/400 - 2
	return models.NewDate(year, time.Month(n/31), n%31+1+shift)
}

// NthWeekday returns the n-th weekday of a month. n == -1 means the last
// one; onOrBefore > 0 caps the search at that day of month. ok is false
// when the month has no such day.
func NthWeekday(year int, month time.Month, wd time.Weekday, n, onOrBefore int) (models.Date, bool) {
	if n == -1 {
		last := models.NewDate(year, month+1, 0)
		if onOrBefore > 0 && onOrBefore < last.Day {
			last = models.NewDate(year, month, onOrBefore)
		}
		back := (int(last.Weekday()) - int(wd) + 7) % 7
		return last.AddDays(-back), true
	}
	if n < 1 {
		return models.Date{}, false
	}
	first := models.NewDate(year, month, 1)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	d := first.AddDays(offset + (n-1)*7)
	if d.Month != month {
		return models.Date{}, false
	}
	return d, true
}

// observedHolidays computes the holidays of one nominal year with the
// calendar's observance policy applied. Results can fall in year-1 or year+1.
func observedHolidays(r ruleSet, weekend func(time.Weekday) bool, year int) []models.Holiday {
	out := make([]models.Holiday, 0, len(r.fixed)+len(r.nth)+len(r.easter))
	taken := make(map[models.Date]bool)
	add := func(h models.Holiday) {
		taken[h.Date] = true
		out = append(out, h)
	}

	for _, h := range r.nth {
		if d, ok := NthWeekday(year, h.Month, h.Weekday, h.N, h.OnOrBefore); ok {
			add(models.Holiday{Date: d, Nominal: d, Name: h.Name})
		}
	}
	for _, h := range r.easter {
		base := GregorianEaster(year)
		if h.Julian {
			base = JulianEaster(year)
		}
		d := base.AddDays(h.Offset)
		add(models.Holiday{Date: d, Nominal: d, Name: h.Name})
	}

	fixed := append([]models.FixedHoliday(nil), r.fixed...)
	sort.SliceStable(fixed, func(i, j int) bool {
		if fixed[i].Month != fixed[j].Month {
			return fixed[i].Month < fixed[j].Month
		}
		return fixed[i].Day < fixed[j].Day
	})

	// weekday dates claim their day before weekend dates get shifted
	var shifted []models.FixedHoliday
	for _, h := range fixed {
		d := models.NewDate(year, h.Month, h.Day)
		if h.SkipObservance || !needsShift(r.observance, d.Weekday(), weekend) {
			add(models.Holiday{Date: d, Nominal: d, Name: h.Name})
			continue
		}
		shifted = append(shifted, h)
	}
	for _, h := range shifted {
		nominal := models.NewDate(year, h.Month, h.Day)
		add(models.Holiday{Date: observe(r.observance, nominal, weekend, taken), Nominal: nominal, Name: h.Name})
	}
	return out
}

func needsShift(policy models.Observance, wd time.Weekday, weekend func(time.Weekday) bool) bool {
	switch policy {
	case models.ObserveWeekendShift:
		return wd == time.Saturday || wd == time.Sunday
	case models.ObserveNextWeekday:
		return weekend(wd)
	case models.ObserveSundayNext:
		return wd == time.Sunday
	default:
		return false
	}
}

func observe(policy models.Observance, d models.Date, weekend func(time.Weekday) bool, taken map[models.Date]bool) models.Date {
	switch policy {
	case models.ObserveWeekendShift:
		if d.Weekday() == time.Saturday {
			return d.AddDays(-1)
		}
		return d.AddDays(1)
	case models.ObserveNextWeekday, models.ObserveSundayNext:
		next := d.AddDays(1)
		for i := 0; i < 14 && (weekend(next.Weekday()) || taken[next]); i++ {
			next = next.AddDays(1)
		}
		return next
	default:
		return d
	}
}
