package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-19 is a Monday.
var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func weekdayConfig() *Config {
	return &Config{
		ClinicID: "clinic-1",
		Timezone: "UTC",
		Weekdays: map[string]Hours{
			"monday": {
				Start: "09:00", End: "18:00",
				LunchStart: "13:00", LunchEnd: "14:00",
			},
			"tuesday": {
				Start: "09:00:00", End: "21:00:00",
				LunchStart: "12:30", LunchEnd: "13:30",
				DinnerStart: "18:00", DinnerEnd: "19:00",
				Breaks: [MaxBreaks]BreakPair{
					{Start: "10:00", End: "10:15"},
					{Start: "15:00"},
					{Start: "07:00", End: "09:30"},
					{Start: "20:30", End: "23:00"},
				},
			},
			"saturday": {Start: "09:00"},
		},
	}
}

func TestResolveWeekdayDefault(t *testing.T) {
	day := Resolve(weekdayConfig(), monday)

	require.True(t, day.Open)
	assert.Equal(t, MustClock("09:00"), day.Start)
	assert.Equal(t, MustClock("18:00"), day.End)
	assert.Equal(t, []Interval{{Start: MustClock("13:00"), End: MustClock("14:00")}}, day.Breaks)
}

func TestResolveBreaksClippedAndOneSidedDropped(t *testing.T) {
	day := Resolve(weekdayConfig(), monday.AddDate(0, 0, 1))

	require.True(t, day.Open)
	assert.Equal(t, MustClock("21:00"), day.End)
	assert.Equal(t, []Interval{
		{Start: MustClock("09:00"), End: MustClock("09:30")},
		{Start: MustClock("10:00"), End: MustClock("10:15")},
		{Start: MustClock("12:30"), End: MustClock("13:30")},
		{Start: MustClock("18:00"), End: MustClock("19:00")},
		{Start: MustClock("20:30"), End: MustClock("21:00")},
	}, day.Breaks)
}

func TestResolveClosedWhenStartOrEndMissing(t *testing.T) {
	cfg := weekdayConfig()
	assert.False(t, Resolve(cfg, monday.AddDate(0, 0, 5)).Open, "saturday has no end")
	day := Resolve(cfg, monday.AddDate(0, 0, 6))
	assert.False(t, day.Open, "sunday not configured")
	assert.Equal(t, ClosedWeekday, day.Reason)
}

func TestResolveHolidayBeatsEverything(t *testing.T) {
	cfg := weekdayConfig()
	cfg.Holidays = []string{"2026-10-19"}
	cfg.SpecialDates = []SpecialDate{{Date: "2026-10-19", Hours: Hours{Start: "10:00", End: "12:00"}}}
	cfg.PublicHolidays = []string{"2026-10-19"}
	cfg.PublicHoliday = &Hours{Start: "10:00", End: "11:00"}

	day := Resolve(cfg, monday)
	assert.False(t, day.Open)
	assert.Equal(t, ClosedHoliday, day.Reason)
}

func TestResolveSpecialDateReplacesWeekday(t *testing.T) {
	cfg := weekdayConfig()
	cfg.SpecialDates = []SpecialDate{{Date: "2026-10-19", Hours: Hours{Start: "10:00", End: "12:00"}}}

	day := Resolve(cfg, monday)
	require.True(t, day.Open)
	assert.Equal(t, MustClock("10:00"), day.Start)
	assert.Equal(t, MustClock("12:00"), day.End)
	assert.Empty(t, day.Breaks, "weekday lunch must not leak into an override")
}

func TestResolveSpecialDateWithoutHoursCloses(t *testing.T) {
	cfg := weekdayConfig()
	cfg.SpecialDates = []SpecialDate{{Date: "2026-10-19"}}

	day := Resolve(cfg, monday)
	assert.False(t, day.Open)
	assert.Equal(t, ClosedSpecialDate, day.Reason)
}

func TestResolvePublicHolidayProfile(t *testing.T) {
	cfg := weekdayConfig()
	cfg.PublicHolidays = []string{"2026-10-19", "2026-10-20"}
	cfg.PublicHoliday = &Hours{Start: "10:00", End: "13:00"}

	day := Resolve(cfg, monday)
	require.True(t, day.Open)
	assert.Equal(t, MustClock("13:00"), day.End)

	cfg.PublicHoliday = nil
	assert.False(t, Resolve(cfg, monday.AddDate(0, 0, 1)).Open)
}

func TestResolveIgnoresTimeOfDay(t *testing.T) {
	day := Resolve(weekdayConfig(), monday.Add(15*time.Hour+7*time.Minute))
	assert.True(t, day.Open)
	assert.Equal(t, monday, day.Date)
}

func TestResolveNilConfig(t *testing.T) {
	assert.False(t, Resolve(nil, monday).Open)
}

func TestConfigValidate(t *testing.T) {
	cfg := weekdayConfig()
	require.NoError(t, cfg.Validate())

	cfg.Weekdays["funday"] = Hours{Start: "09:00", End: "10:00"}
	cfg.Weekdays["friday"] = Hours{Start: "18:00", End: "09:00"}
	cfg.Holidays = []string{"19/10/2026"}
	cfg.SpecialDates = []SpecialDate{{Date: "2026-10-20", Hours: Hours{Start: "9am", End: "10:00"}}}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"funday", "friday", "19/10/2026", "9am"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConfigLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Timezone: "Mars/Olympus"}
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Error(t, cfg.Validate())

	cfg.Timezone = "Asia/Hong_Kong"
	assert.Equal(t, "Asia/Hong_Kong", cfg.Location().String())
}
