package schedule

import (
	"sort"
	"strings"
	"time"
)

// ClosedReason explains why a Day is not open.
type ClosedReason string

const (
	ClosedHoliday     ClosedReason = "holiday"
	ClosedSpecialDate ClosedReason = "special_date"
	ClosedWeekday     ClosedReason = "weekday"
)

// Day is the effective operating window for one calendar date.
type Day struct {
	Date   time.Time    `json:"date"`
	Open   bool         `json:"open"`
	Reason ClosedReason `json:"closed_reason,omitempty"`
	Start  Clock        `json:"start"`
	End    Clock        `json:"end"`
	Breaks []Interval   `json:"breaks,omitempty"`
}

// Window returns the open [Start, End) interval.
func (d Day) Window() Interval {
	return Interval{Start: d.Start, End: d.End}
}

// InBreak reports whether t falls inside any break.
func (d Day) InBreak(t Clock) bool {
	for _, b := range d.Breaks {
		if b.Contains(t) {
			return true
		}
	}
	return false
}

// OverlapsBreak reports whether iv intersects any break.
func (d Day) OverlapsBreak(iv Interval) bool {
	for _, b := range d.Breaks {
		if b.Overlaps(iv) {
			return true
		}
	}
	return false
}

// Resolve derives the effective window for date from authoritative config.
// Precedence: self-declared holiday, special-date override, public holiday, weekday default.
// It is pure; callers re-run it per request instead of caching derived schedules.
func Resolve(cfg *Config, date time.Time) Day {
	date = DateOnly(date)
	key := date.Format(DateLayout)
	closed := func(reason ClosedReason) Day {
		return Day{Date: date, Reason: reason}
	}
	if cfg == nil {
		return closed(ClosedWeekday)
	}

	if containsDate(cfg.Holidays, key) {
		return closed(ClosedHoliday)
	}

	for _, sd := range cfg.SpecialDates {
		if strings.TrimSpace(sd.Date) != key {
			continue
		}
		day, ok := assemble(date, sd.Hours)
		if !ok {
			return closed(ClosedSpecialDate)
		}
		return day
	}

	if containsDate(cfg.PublicHolidays, key) {
		if cfg.PublicHoliday == nil {
			return closed(ClosedHoliday)
		}
		day, ok := assemble(date, *cfg.PublicHoliday)
		if !ok {
			return closed(ClosedHoliday)
		}
		return day
	}

	hours, ok := cfg.HoursFor(date.Weekday())
	if !ok {
		return closed(ClosedWeekday)
	}
	day, ok := assemble(date, hours)
	if !ok {
		return closed(ClosedWeekday)
	}
	return day
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate reports whether a and b fall on the same calendar date, comparing in a's location.
func SameDate(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func assemble(date time.Time, h Hours) (Day, bool) {
	start, errStart := ParseClock(h.Start)
	end, errEnd := ParseClock(h.End)
	if errStart != nil || errEnd != nil || end <= start {
		return Day{}, false
	}
	day := Day{Date: date, Open: true, Start: start, End: end}

	pairs := []BreakPair{
		{Start: h.LunchStart, End: h.LunchEnd},
		{Start: h.DinnerStart, End: h.DinnerEnd},
	}
	pairs = append(pairs, h.Breaks[:]...)
	for _, p := range pairs {
		if iv, ok := clipBreak(p, day.Window()); ok {
			day.Breaks = append(day.Breaks, iv)
		}
	}
	sort.SliceStable(day.Breaks, func(i, j int) bool {
		return day.Breaks[i].Start < day.Breaks[j].Start
	})
	return day, true
}

func clipBreak(p BreakPair, window Interval) (Interval, bool) {
	if strings.TrimSpace(p.Start) == "" || strings.TrimSpace(p.End) == "" {
		return Interval{}, false
	}
	start, err := ParseClock(p.Start)
	if err != nil {
		return Interval{}, false
	}
	end, err := ParseClock(p.End)
	if err != nil {
		return Interval{}, false
	}
	if start < window.Start {
		start = window.Start
	}
	if end > window.End {
		end = window.End
	}
	if start >= end {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

func containsDate(dates []string, key string) bool {
	for _, d := range dates {
		if strings.TrimSpace(d) == key {
			return true
		}
	}
	return false
}
