package availability

import "github.com/wolfman30/clinic-scheduler/internal/schedule"

// CheckDoctor decides whether doctorID can take [start, start+minutes) on day.
// commitments may include other doctors; they are ignored.
func CheckDoctor(day schedule.Day, commitments []Commitment, doctorID string, start schedule.Clock, minutes int) Verdict {
	v := Verdict{DoctorID: doctorID}
	slot := schedule.Interval{Start: start, End: start.Add(minutes)}
	if !withinHours(day, slot) {
		v.Reason = ReasonOutsideHours
		return v
	}

	booked := false
	for _, c := range commitments {
		if c.DoctorID != doctorID || !c.Interval().Overlaps(slot) {
			continue
		}
		if c.Source == SourceUnavailability {
			v.Reason = ReasonDoctorUnavailable
			return v
		}
		booked = true
	}
	if booked {
		v.Reason = ReasonSlotBooked
		return v
	}
	v.Feasible = true
	v.Reason = ReasonAvailable
	return v
}

func withinHours(day schedule.Day, slot schedule.Interval) bool {
	if !day.Open || slot.Minutes() <= 0 {
		return false
	}
	if slot.Start < day.Start || slot.End > day.End {
		return false
	}
	return !day.OverlapsBreak(slot)
}
