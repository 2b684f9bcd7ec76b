package calendar

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
)

func loc(t *testing.T, name string) *time.Location {
	t.Helper()
	l, err := time.LoadLocation(name)
	require.NoError(t, err)
	return l
}

func market(t *testing.T, key, tz string, open, close models.ClockTime, preset string) models.MarketConfig {
	return models.MarketConfig{
		Key:             key,
		Timezone:        tz,
		Location:        loc(t, tz),
		Open:            open,
		Close:           close,
		Weight:          0.1,
		IsControlMarket: true,
		IsActive:        true,
		Weekend:         []time.Weekday{time.Saturday, time.Sunday},
		Holidays:        models.HolidayCalendar{Preset: preset},
	}
}

func usa(t *testing.T) models.MarketConfig {
	return market(t, "USA", "America/New_York", models.ClockTime{Hour: 9, Minute: 30}, models.ClockTime{Hour: 16}, "us")
}

func date(y int, m time.Month, d int) models.Date { return models.NewDate(y, m, d) }

func TestEaster(t *testing.T) {
	cases := []struct {
		year      int
		gregorian models.Date
		julian    models.Date
	}{
		{2019, date(2019, time.April, 21), date(2019, time.April, 28)},
		{2023, date(2023, time.April, 9), date(2023, time.April, 16)},
		{2024, date(2024, time.March, 31), date(2024, time.May, 5)},
		{2025, date(2025, time.April, 20), date(2025, time.April, 20)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.gregorian, GregorianEaster(tc.year), "gregorian %d", tc.year)
		assert.Equal(t, tc.julian, JulianEaster(tc.year), "julian %d", tc.year)
	}
}

func TestNthWeekday(t *testing.T) {
	cases := []struct {
		name       string
		month      time.Month
		wd         time.Weekday
		n, before  int
		want       models.Date
		wantExists bool
	}{
		{"mlk", time.January, time.Monday, 3, 0, date(2025, time.January, 20), true},
		{"memorial", time.May, time.Monday, -1, 0, date(2025, time.May, 26), true},
		{"thanksgiving", time.November, time.Thursday, 4, 0, date(2025, time.November, 27), true},
		{"victoria", time.May, time.Monday, -1, 24, date(2025, time.May, 19), true},
		{"fifth monday of february", time.February, time.Monday, 5, 0, models.Date{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NthWeekday(2025, tc.month, tc.wd, tc.n, tc.before)
			require.Equal(t, tc.wantExists, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestObservedShift_WeekendShift(t *testing.T) {
	s := NewService()
	m := usa(t)

	// July 4 2026 is a Saturday, 2027 a Sunday
	assert.False(t, s.IsTradingDay(m, date(2026, time.July, 3)))
	assert.True(t, s.IsTradingDay(m, date(2026, time.July, 6)))
	assert.False(t, s.IsTradingDay(m, date(2027, time.July, 5)))
	assert.True(t, s.IsTradingDay(m, date(2027, time.July, 2)))

	info := s.DayInfo(m, date(2026, time.July, 3))
	assert.Equal(t, DayHoliday, info.Kind)
	assert.Equal(t, "Independence Day", info.HolidayName)

	// Jan 1 2022 is a Saturday, observed in the previous year
	assert.False(t, s.IsTradingDay(m, date(2021, time.December, 31)))
}

func TestObservedShift_NextWeekday(t *testing.T) {
	s := NewService()
	m := market(t, "UK", "Europe/London", models.ClockTime{Hour: 8}, models.ClockTime{Hour: 16, Minute: 30}, "uk")

	// 2021: Christmas Saturday, Boxing Day Sunday
	assert.False(t, s.IsTradingDay(m, date(2021, time.December, 27)))
	assert.False(t, s.IsTradingDay(m, date(2021, time.December, 28)))
	assert.True(t, s.IsTradingDay(m, date(2021, time.December, 29)))

	// 2022: Christmas Sunday, Boxing Day Monday keeps its own date
	assert.Equal(t, "Boxing Day", s.DayInfo(m, date(2022, time.December, 26)).HolidayName)
	assert.Equal(t, "Christmas Day", s.DayInfo(m, date(2022, time.December, 27)).HolidayName)
}

func TestObservedShift_SundayNext(t *testing.T) {
	s := NewService()
	m := market(t, "Japan", "Asia/Tokyo", models.ClockTime{Hour: 9}, models.ClockTime{Hour: 15}, "japan")

	// Emperor's Birthday 2025 is a Sunday
	assert.Equal(t, "Emperor's Birthday", s.DayInfo(m, date(2025, time.February, 24)).HolidayName)
	// Greenery Day falls on Sunday and Children's Day already holds Monday
	assert.False(t, s.IsTradingDay(m, date(2025, time.May, 6)))
	assert.True(t, s.IsTradingDay(m, date(2025, time.May, 7)))
}

func TestJapanNewYearClosure(t *testing.T) {
	s := NewService()
	m := market(t, "Japan", "Asia/Tokyo", models.ClockTime{Hour: 9}, models.ClockTime{Hour: 15}, "japan")

	// New Year's Day on a Sunday: the Jan 2-3 closure covers it, Jan 4 trades
	for _, year := range []int{2017, 2023} {
		require.Equal(t, time.Sunday, date(year, time.January, 1).Weekday())
		assert.False(t, s.IsTradingDay(m, date(year, time.January, 2)), "%d-01-02", year)
		assert.False(t, s.IsTradingDay(m, date(year, time.January, 3)), "%d-01-03", year)

		jan4 := s.DayInfo(m, date(year, time.January, 4))
		assert.True(t, jan4.TradingDay(), "%d-01-04", year)
		assert.Empty(t, jan4.HolidayName)
	}

	// weekday New Year is unchanged
	assert.Equal(t, "New Year's Day", s.DayInfo(m, date(2025, time.January, 1)).HolidayName)
	assert.True(t, s.IsTradingDay(m, date(2025, time.January, 6)))
}

func TestObservance_ExplicitNoneDisablesShift(t *testing.T) {
	s := NewService()
	m := usa(t)
	m.Holidays.Observance = models.ObserveNone

	assert.True(t, s.IsTradingDay(m, date(2026, time.July, 3)))
}

func TestOverridesWin(t *testing.T) {
	s := NewService()
	m := usa(t)
	early := models.ClockTime{Hour: 13}
	m.Holidays.Overrides = []models.HolidayOverride{
		{Date: date(2025, time.July, 4), IsTradingDay: true},
		{Date: date(2025, time.January, 9), IsTradingDay: false, HolidayName: "National Day of Mourning"},
		{Date: date(2025, time.November, 28), IsTradingDay: true, HolidayName: "Early close", Close: &early},
		{Date: date(2025, time.March, 1), IsTradingDay: true, HolidayName: "Saturday session"},
	}

	assert.True(t, s.IsTradingDay(m, date(2025, time.July, 4)))

	mourning := s.DayInfo(m, date(2025, time.January, 9))
	assert.False(t, mourning.TradingDay())
	assert.True(t, mourning.IsHoliday())
	assert.Equal(t, "National Day of Mourning", mourning.HolidayName)

	assert.True(t, s.IsTradingDay(m, date(2025, time.March, 1)))

	w, ok := s.TradingWindow(m, date(2025, time.November, 28))
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.November, 28, 18, 0, 0, 0, time.UTC), w.CloseAt.UTC())
}

func TestTradingWindow_DST(t *testing.T) {
	s := NewService()
	ny := usa(t)
	lon := market(t, "UK", "Europe/London", models.ClockTime{Hour: 8}, models.ClockTime{Hour: 16, Minute: 30}, "uk")

	cases := []struct {
		name string
		m    models.MarketConfig
		d    models.Date
		open time.Time
	}{
		{"ny before spring forward", ny, date(2025, time.March, 7), time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC)},
		{"ny after spring forward", ny, date(2025, time.March, 10), time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC)},
		{"ny before fall back", ny, date(2025, time.October, 31), time.Date(2025, 10, 31, 13, 30, 0, 0, time.UTC)},
		{"ny after fall back", ny, date(2025, time.November, 3), time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)},
		{"london summer time", lon, date(2025, time.March, 31), time.Date(2025, 3, 31, 7, 0, 0, 0, time.UTC)},
		{"london winter", lon, date(2025, time.March, 28), time.Date(2025, 3, 28, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, ok := s.TradingWindow(tc.m, tc.d)
			require.True(t, ok)
			assert.True(t, tc.open.Equal(w.OpenAt), "open %s", w.OpenAt.UTC())
			assert.True(t, w.CloseAt.After(w.OpenAt))
		})
	}
}

func TestLocalInstant_GapAndOverlap(t *testing.T) {
	ny := loc(t, "America/New_York")

	gap := LocalInstant(ny, date(2025, time.March, 9), models.ClockTime{Hour: 2, Minute: 30})
	assert.Equal(t, time.Date(2025, 3, 9, 7, 30, 0, 0, time.UTC), gap.UTC())

	overlap := LocalInstant(ny, date(2025, time.November, 2), models.ClockTime{Hour: 1, Minute: 30})
	assert.Equal(t, time.Date(2025, 11, 2, 6, 30, 0, 0, time.UTC), overlap.UTC())

	plain := LocalInstant(ny, date(2025, time.June, 2), models.ClockTime{Hour: 9, Minute: 30})
	assert.Equal(t, time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC), plain.UTC())
}

func TestTradingDayAndWindowAgree(t *testing.T) {
	s := NewService()
	m := usa(t)
	for d := date(2025, time.January, 1); d.Year == 2025; d = d.AddDays(1) {
		w, ok := s.TradingWindow(m, d)
		require.Equal(t, s.IsTradingDay(m, d), ok, d.String())
		if ok {
			require.True(t, w.CloseAt.After(w.OpenAt), d.String())
			require.Equal(t, d, models.DateOf(w.OpenAt), d.String())
		}
	}
}

func TestHolidays_US2025(t *testing.T) {
	s := NewService()
	hs := s.Holidays(usa(t), 2025)

	require.Len(t, hs, 10)
	assert.Equal(t, date(2025, time.January, 1), hs[0].Date)
	assert.Equal(t, "Good Friday", hs[3].Name)
	assert.Equal(t, date(2025, time.April, 18), hs[3].Date)
	assert.Equal(t, date(2025, time.December, 25), hs[9].Date)
}

func TestHolidays_OverridesApplied(t *testing.T) {
	s := NewService()
	m := usa(t)
	m.Holidays.Overrides = []models.HolidayOverride{
		{Date: date(2025, time.January, 1), IsTradingDay: true},
		{Date: date(2025, time.January, 9), HolidayName: "National Day of Mourning"},
	}
	hs := s.Holidays(m, 2025)

	require.Len(t, hs, 10)
	assert.Equal(t, date(2025, time.January, 9), hs[0].Date)
	assert.True(t, hs[0].Override)
}

func TestEasterRule_Julian(t *testing.T) {
	s := NewService()
	m := market(t, "GR", "Europe/Athens", models.ClockTime{Hour: 10, Minute: 15}, models.ClockTime{Hour: 17, Minute: 20}, "none")
	m.Holidays.Easter = []models.EasterHoliday{{Name: "Orthodox Easter Monday", Offset: 1, Julian: true}}

	assert.False(t, s.IsTradingDay(m, date(2024, time.May, 6)))
	assert.True(t, s.IsTradingDay(m, date(2024, time.April, 1)))
}
