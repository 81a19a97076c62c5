package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the exact-date format used by holiday and special-date entries.
const DateLayout = "2006-01-02"

// MaxBreaks is the number of generic numbered break pairs a day may carry.
const MaxBreaks = 5

// BreakPair is an optional wall-clock break. A pair with only one side set is ignored.
type BreakPair struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Hours is the operating-hour entry for a weekday, the public-holiday profile or a special date.
// Empty Start or End means closed.
type Hours struct {
	Start       string               `json:"start,omitempty"`
	End         string               `json:"end,omitempty"`
	LunchStart  string               `json:"lunch_start,omitempty"`
	LunchEnd    string               `json:"lunch_end,omitempty"`
	DinnerStart string               `json:"dinner_start,omitempty"`
	DinnerEnd   string               `json:"dinner_end,omitempty"`
	Breaks      [MaxBreaks]BreakPair `json:"breaks"`
}

// SpecialDate fully replaces the weekday default for one date.
// An entry without start/end closes the clinic on that date.
type SpecialDate struct {
	Date string `json:"date"`
	Hours
}

// Config is the per-clinic operating-hour configuration.
type Config struct {
	ClinicID       string           `json:"clinic_id"`
	Timezone       string           `json:"timezone"`
	Weekdays       map[string]Hours `json:"weekdays"`
	PublicHoliday  *Hours           `json:"public_holiday,omitempty"`
	PublicHolidays []string         `json:"public_holidays,omitempty"`
	Holidays       []string         `json:"holidays,omitempty"`
	SpecialDates   []SpecialDate    `json:"special_dates,omitempty"`
}

// WeekdayKey returns the lower-case weekday name used as the Weekdays map key.
func WeekdayKey(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// Location returns the clinic's time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HoursFor returns the weekday default for d.
func (c *Config) HoursFor(d time.Weekday) (Hours, bool) {
	if c == nil || c.Weekdays == nil {
		return Hours{}, false
	}
	h, ok := c.Weekdays[WeekdayKey(d)]
	return h, ok
}

// Validate reports malformed times, inverted windows, unknown weekdays and bad dates.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("schedule: config required")
	}
	if _, err := time.LoadLocation(c.Timezone); c.Timezone != "" && err != nil {
		return fmt.Errorf("schedule: unknown timezone %q", c.Timezone)
	}
	var errs []error
	for key, h := range c.Weekdays {
		if !isWeekdayKey(key) {
			errs = append(errs, fmt.Errorf("schedule: unknown weekday %q", key))
			continue
		}
		if err := h.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if c.PublicHoliday != nil {
		if err := c.PublicHoliday.validate(); err != nil {
			errs = append(errs, fmt.Errorf("public holiday: %w", err))
		}
	}
	for _, list := range [][]string{c.Holidays, c.PublicHolidays} {
		for _, d := range list {
			if _, err := time.Parse(DateLayout, d); err != nil {
				errs = append(errs, fmt.Errorf("schedule: invalid date %q", d))
			}
		}
	}
	for _, sd := range c.SpecialDates {
		if _, err := time.Parse(DateLayout, sd.Date); err != nil {
			errs = append(errs, fmt.Errorf("schedule: invalid special date %q", sd.Date))
			continue
		}
		if err := sd.Hours.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sd.Date, err))
		}
	}
	return errors.Join(errs...)
}

func (h Hours) validate() error {
	fields := []string{h.Start, h.End, h.LunchStart, h.LunchEnd, h.DinnerStart, h.DinnerEnd}
	for _, b := range h.Breaks {
		fields = append(fields, b.Start, b.End)
	}
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if _, err := ParseClock(f); err != nil {
			return err
		}
	}
	if h.Start != "" && h.End != "" {
		if MustClock(h.End) <= MustClock(h.Start) {
			return fmt.Errorf("schedule: end %s must be after start %s", h.End, h.Start)
		}
	}
	return nil
}

func isWeekdayKey(key string) bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if WeekdayKey(d) == key {
			return true
		}
	}
	return false
}
