package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Seasonal holidays
// =============================================================================

// HolidayType identifies a seasonal greeting campaign.
type HolidayType string

const (
	HolidayChristmas   HolidayType = "christmas"
	HolidayEaster      HolidayType = "easter"
	HolidayValentines  HolidayType = "valentines"
	HolidayMothersDay  HolidayType = "mothers_day"
	HolidayKingsDay    HolidayType = "kings_day"
	HolidayBlackFriday HolidayType = "black_friday"
)

// SeasonalLeadDays is how far ahead of a variable holiday its greeting is
// triggered.
const SeasonalLeadDays = 14

// Holiday describes one seasonal campaign. Fixed holidays carry their own
// trigger date; variable holidays are computed per year and stored as
// seasonal trigger dates.
type Holiday struct {
	Type     HolidayType
	Name     string
	Variable bool

	// Month/Day of the holiday itself when fixed.
	Month time.Month
	Day   int

	// TriggerMonth/TriggerDay when fixed.
	TriggerMonth time.Month
	TriggerDay   int

	// Audience lists ISO 3166-1 alpha-2 country codes.
	Audience []string

	compute func(year int) time.Time
}

var westernAudience = []string{
	"AT", "AU", "BE", "CA", "CH", "DE", "DK", "ES", "FI", "FR", "GB", "IE",
	"IT", "LU", "NL", "NO", "NZ", "PL", "PT", "SE", "US",
}

var holidays = []Holiday{
	{
		Type: HolidayChristmas, Name: "Christmas",
		Month: time.December, Day: 25,
		TriggerMonth: time.October, TriggerDay: 15,
		Audience: westernAudience,
	},
	{
		Type: HolidayValentines, Name: "Valentine's Day",
		Month: time.February, Day: 14,
		TriggerMonth: time.January, TriggerDay: 31,
		Audience: westernAudience,
	},
	{
		Type: HolidayKingsDay, Name: "King's Day",
		Month: time.April, Day: 27,
		TriggerMonth: time.April, TriggerDay: 13,
		Audience: []string{"NL"},
	},
	{
		Type: HolidayEaster, Name: "Easter", Variable: true,
		Audience: westernAudience,
		compute:  EasterSunday,
	},
	{
		Type: HolidayMothersDay, Name: "Mother's Day", Variable: true,
		Audience: []string{"AT", "AU", "BE", "CA", "CH", "DE", "DK", "FI", "IT", "NL", "NZ", "US"},
		compute:  MothersDay,
	},
	{
		Type: HolidayBlackFriday, Name: "Black Friday", Variable: true,
		Audience: []string{"BE", "CA", "DE", "FR", "GB", "NL", "US"},
		compute:  BlackFriday,
	},
}

// Holidays returns every known holiday.
func Holidays() []Holiday {
	out := make([]Holiday, len(holidays))
	copy(out, holidays)
	return out
}

// LookupHoliday returns the holiday with the given type.
func LookupHoliday(t HolidayType) (Holiday, bool) {
	for _, h := range holidays {
		if h.Type == t {
			return h, true
		}
	}
	return Holiday{}, false
}

// Date returns the holiday date in year.
func (h Holiday) Date(year int) time.Time {
	if h.Variable {
		return h.compute(year)
	}
	return time.Date(year, h.Month, h.Day, 0, 0, 0, 0, time.UTC)
}

// TriggerDate returns the date the greeting goes out in year.
func (h Holiday) TriggerDate(year int) time.Time {
	if h.Variable {
		return h.Date(year).AddDate(0, 0, -SeasonalLeadDays)
	}
	return time.Date(year, h.TriggerMonth, h.TriggerDay, 0, 0, 0, 0, time.UTC)
}

// InAudience reports whether a company in country receives the greeting.
func (h Holiday) InAudience(country string) bool {
	for _, c := range h.Audience {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// EasterSunday computes Western Easter with the anonymous Gregorian
// algorithm.
func EasterSunday(year int) time.Time {
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
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// MothersDay returns the second Sunday of May.
func MothersDay(year int) time.Time {
	return nthWeekday(year, time.May, time.Sunday, 2)
}

// BlackFriday returns the day after the fourth Thursday of November.
func BlackFriday(year int) time.Time {
	return nthWeekday(year, time.November, time.Thursday, 4).AddDate(0, 0, 1)
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}
