// Package schedule turns clinic operating-hour configuration into concrete
// per-day windows and candidate appointment start times.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// Clock is a wall-clock time expressed as minutes since midnight.
type Clock int

// MinutesPerDay bounds every Clock value.
const MinutesPerDay = 24 * 60

// ParseClock accepts "HH:MM" or "HH:MM:SS"; only the HH:MM prefix is significant.
func ParseClock(value string) (Clock, error) {
	value = strings.TrimSpace(value)
	if len(value) < 5 || value[2] != ':' {
		return 0, fmt.Errorf("schedule: invalid time %q", value)
	}
	hours, err := strconv.Atoi(value[:2])
	if err != nil {
		return 0, fmt.Errorf("schedule: invalid hour in %q", value)
	}
	minutes, err := strconv.Atoi(value[3:5])
	if err != nil {
		return 0, fmt.Errorf("schedule: invalid minute in %q", value)
	}
	if hours < 0 || hours > 24 || minutes < 0 || minutes > 59 || (hours == 24 && minutes != 0) {
		return 0, fmt.Errorf("schedule: time out of range %q", value)
	}
	return Clock(hours*60 + minutes), nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(value string) Clock {
	c, err := ParseClock(value)
	if err != nil {
		panic(err)
	}
	return c
}

// Add returns the clock shifted by the given number of minutes.
func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// Hour returns the hour component.
func (c Clock) Hour() int {
	return int(c) / 60
}

// String renders HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Interval is a half-open [Start, End) range of wall-clock minutes.
type Interval struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Overlaps reports whether the two half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && i.End > other.Start
}

// Contains reports whether t lies inside [Start, End).
func (i Interval) Contains(t Clock) bool {
	return t >= i.Start && t < i.End
}

// Minutes returns the interval length.
func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}
