package models

import (
	"reflect"
	"time"
)

// MarketConfig is the externally owned description of one market.
type MarketConfig struct {
	Key             string
	DisplayName     string
	Timezone        string
	Location        *time.Location
	Open            ClockTime
	Close           ClockTime
	Weight          float64
	IsControlMarket bool
	IsActive        bool
	Region          string
	Weekend         []time.Weekday
	Holidays        HolidayCalendar
}

// Scheduled reports whether the monitor owns a timer for this market.
func (m MarketConfig) Scheduled() bool { return m.IsActive && m.IsControlMarket }

func (m MarketConfig) IsWeekend(wd time.Weekday) bool {
	for _, w := range m.Weekend {
		if w == wd {
			return true
		}
	}
	return false
}

// Equal compares two configs ignoring the loaded *time.Location pointer.
func (m MarketConfig) Equal(o MarketConfig) bool {
	m.Location, o.Location = nil, nil
	return reflect.DeepEqual(m, o)
}

// Observance is the weekend policy applied to fixed-date holidays.
type Observance string

const (
	ObserveWeekendShift Observance = "weekend_shift" // Sat -> Fri, Sun -> Mon
	ObserveNextWeekday  Observance = "next_weekday"  // Sat/Sun -> next free weekday
	ObserveSundayNext   Observance = "sunday_next"   // Sun -> next free weekday, Sat stays
	ObserveNone         Observance = "none"
)

// HolidayCalendar is the rule set and override table of one market.
type HolidayCalendar struct {
	Preset     string
	Observance Observance
	Fixed      []FixedHoliday
	NthWeekday []NthWeekdayHoliday
	Easter     []EasterHoliday
	Overrides  []HolidayOverride
}

type FixedHoliday struct {
	Name  string
	Month time.Month
	Day   int
	// SkipObservance keeps the nominal date even if it lands on a weekend.
	SkipObservance bool
}

// NthWeekdayHoliday is e.g. the 3rd Monday of January. N == -1 is the last
// one, counted back from OnOrBefore when that is set.
type NthWeekdayHoliday struct {
	Name       string
	Month      time.Month
	Weekday    time.Weekday
	N          int
	OnOrBefore int
}

type EasterHoliday struct {
	Name   string
	Offset int
	Julian bool
}

// HolidayOverride always wins over the computed rules for its date.
// Open/Close, when set on a trading day, replace the regular session.
type HolidayOverride struct {
	Date         Date
	IsTradingDay bool
	HolidayName  string
	Open         *ClockTime
	Close        *ClockTime
}

// Holiday is one observed non-trading date.
type Holiday struct {
	Date     Date   `json:"date"`
	Name     string `json:"name"`
	Nominal  Date   `json:"nominal"`
	Override bool   `json:"override"`
}
