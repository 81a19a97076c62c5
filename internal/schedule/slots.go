package schedule

import "time"

// DefaultStep is the slot grid in minutes.
const DefaultStep = 15

// Candidates walks the open window in step increments and returns every start
// time strictly before the window end, skipping starts inside a break and, when
// now falls on the same date, starts earlier than now. Closed days yield nothing.
func Candidates(day Day, step int, now time.Time) []Clock {
	if !day.Open {
		return nil
	}
	if step <= 0 {
		step = DefaultStep
	}
	cutoff := Clock(-1)
	if !now.IsZero() {
		local := now.In(day.Date.Location())
		switch {
		case SameDate(day.Date, local):
			cutoff = Clock(local.Hour()*60 + local.Minute())
			if local.Second() > 0 || local.Nanosecond() > 0 {
				cutoff++
			}
		case DateOnly(local).After(day.Date):
			return nil
		}
	}

	var out []Clock
	for t := day.Start; t < day.End; t = t.Add(step) {
		if t < cutoff {
			continue
		}
		if day.InBreak(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// At converts a clock on day into an absolute instant in the day's location.
func At(day time.Time, c Clock) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour(), int(c)%60, 0, 0, day.Location())
}
