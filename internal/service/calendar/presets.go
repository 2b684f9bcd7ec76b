package calendar

import (
	"sort"
	"time"

	"MarketPulse/internal/domain/models"
)

type ruleSet struct {
	observance models.Observance
	fixed      []models.FixedHoliday
	nth        []models.NthWeekdayHoliday
	easter     []models.EasterHoliday
}

func fixed(name string, m time.Month, d int) models.FixedHoliday {
	return models.FixedHoliday{Name: name, Month: m, Day: d}
}

func fixedNoShift(name string, m time.Month, d int) models.FixedHoliday {
	return models.FixedHoliday{Name: name, Month: m, Day: d, SkipObservance: true}
}

func nth(name string, m time.Month, wd time.Weekday, n int) models.NthWeekdayHoliday {
	return models.NthWeekdayHoliday{Name: name, Month: m, Weekday: wd, N: n}
}

var (
	goodFriday   = models.EasterHoliday{Name: "Good Friday", Offset: -2}
	easterMonday = models.EasterHoliday{Name: "Easter Monday", Offset: 1}
)

// Exchange holiday rules that can be expressed without a lunar or
// announced calendar. The rest comes from the override table.
var presets = map[string]ruleSet{
	"none": {observance: models.ObserveNone},
	"us": {
		observance: models.ObserveWeekendShift,
		fixed: []models.FixedHoliday{
			fixed("New Year's Day", time.January, 1),
			fixed("Juneteenth", time.June, 19),
			fixed("Independence Day", time.July, 4),
			fixed("Christmas Day", time.December, 25),
		},
		nth: []models.NthWeekdayHoliday{
			nth("Martin Luther King Jr. Day", time.January, time.Monday, 3),
			nth("Presidents' Day", time.February, time.Monday, 3),
			nth("Memorial Day", time.May, time.Monday, -1),
			nth("Labor Day", time.September, time.Monday, 1),
			nth("Thanksgiving Day", time.November, time.Thursday, 4),
		},
		easter: []models.EasterHoliday{goodFriday},
	},
	"uk": {
		observance: models.ObserveNextWeekday,
		fixed: []models.FixedHoliday{
			fixed("New Year's Day", time.January, 1),
			fixed("Christmas Day", time.December, 25),
			fixed("Boxing Day", time.December, 26),
		},
		nth: []models.NthWeekdayHoliday{
			nth("Early May Bank Holiday", time.May, time.Monday, 1),
			nth("Spring Bank Holiday", time.May, time.Monday, -1),
			nth("Summer Bank Holiday", time.August, time.Monday, -1),
		},
		easter: []models.EasterHoliday{goodFriday, easterMonday},
	},
	"germany": {
		observance: models.ObserveNone,
		fixed: []models.FixedHoliday{
			fixed("New Year's Day", time.January, 1),
			fixed("Labour Day", time.May, 1),
			fixed("Christmas Eve", time.December, 24),
			fixed("Christmas Day", time.December, 25),
			fixed("Boxing Day", time.December, 26),
			fixed("New Year's Eve", time.December, 31),
		},
		easter: []models.EasterHoliday{goodFriday, easterMonday},
	},
	"france": {
		observance: models.ObserveNone,
		fixed: []models.FixedHoliday{
			fixed("New Year's Day", time.January, 1),
			fixed("Labour Day", time.May, 1),
			fixed("Christmas Day", time.December, 25),
			fixed("St. Stephen's Day", time.December, 26),
		},
		easter: []models.EasterHoliday{goodFriday, easterMonday},
	},
	"japan": {
		observance: models.ObserveSundayNext,
		fixed: []models.FixedHoliday{
			// the exchange is shut Jan 1-3 anyway, so a Sunday New Year needs no substitute
			fixedNoShift("New Year's Day", time.January, 1),
			fixedNoShift("Bank Holiday", time.January, 2),
			fixedNoShift("Bank Holiday", time.January, 3),
			fixed("National Foundation Day", time.February, 11),
			fixed("Emperor's Birthday", time.February, 23),
			fixed("Showa Day", time.April, 29),
			fixed("Constitution Memorial Day", time.May, 3),
			fixed("Greenery Day", time.May, 4),
			fixed("Children's Day", time.May, 5),
			fixed("Mountain Day", time.August, 11),
			fixed("Culture Day", time.November, 3),
			fixed("Labour Thanksgiving Day", time.November, 23),
			fixedNoShift("New Year's Eve", time.December, 31),
		},
		nth: []models.NthWeekdayHoliday{
			nth("Coming of Age Day", time.January, time.Monday, 2),
			nth("Marine Day", time.July, time.Monday, 3),
			nth("Respect for the Aged Day", time.September, time.Monday, 3),
			nth("Sports Day", time.October, time.Monday, 2),
		},
	},
	"hong_kong": {
		observance: models.ObserveSundayNext,
		fixed: []models.FixedHoliday{
			fixed("New Year's Day", time.January, 1),
			fixed("Labour Day", time.May, 1),
			fixed("HKSAR Establishment Day", time.July, 1),
			fixed("National Day", time.October, 1),
			fixed("Christmas Day", time.December, 25),
			fixed("Boxing Day", time.December, 26),
		},
		easter: []models.EasterHoliday{goodFriday, easterMonday},
	},
	"china": {
		observance: models.ObserveNone,
		fixed: []models.FixedHoliday{
			fixed("New Year's Day", time.January, 1),
			fixed("Labour Day", time.May, 1),
			fixed("National Day", time.October, 1),
			fixed("National Day", time.October, 2),
			fixed("National Day", time.October, 3),
		},
	},
	"india": {
		observance: models.ObserveNone,
		fixed: []models.FixedHoliday{
			fixed("Republic Day", time.January, 26),
			fixed("Maharashtra Day", time.May, 1),
			fixed("Independence Day", time.August, 15),
			fixed("Gandhi Jayanti", time.October, 2),
			fixed("Christmas", time.December, 25),
		},
	},
	"canada": {
		observance: models.ObserveNextWeekday,
		fixed: []models.FixedHoliday{
			fixed("New Year's Day", time.January, 1),
			fixed("Canada Day", time.July, 1),
			fixed("Christmas Day", time.December, 25),
			fixed("Boxing Day", time.December, 26),
		},
		nth: []models.NthWeekdayHoliday{
			nth("Family Day", time.February, time.Monday, 3),
			{Name: "Victoria Day", Month: time.May, Weekday: time.Monday, N: -1, OnOrBefore: 24},
			nth("Civic Holiday", time.August, time.Monday, 1),
			nth("Labour Day", time.September, time.Monday, 1),
			nth("Thanksgiving Day", time.October, time.Monday, 2),
		},
		easter: []models.EasterHoliday{goodFriday},
	},
}

// HasPreset reports whether name is a known rule preset.
func HasPreset(name string) bool {
	_, ok := presets[name]
	return ok
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// rulesFor merges a preset with the calendar's explicit rules. An explicit
// observance replaces the preset's.
func rulesFor(c models.HolidayCalendar) ruleSet {
	base := presets[c.Preset]
	r := ruleSet{
		observance: base.observance,
		fixed:      append(append([]models.FixedHoliday(nil), base.fixed...), c.Fixed...),
		nth:        append(append([]models.NthWeekdayHoliday(nil), base.nth...), c.NthWeekday...),
		easter:     append(append([]models.EasterHoliday(nil), base.easter...), c.Easter...),
	}
	if c.Observance != "" {
		r.observance = c.Observance
	}
	if r.observance == "" {
		r.observance = models.ObserveWeekendShift
	}
	return r
}
