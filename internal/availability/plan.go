package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

// dayPlan is the per-call snapshot for one (clinic, date): resolved window, doctors and
// commitments fetched once and dropped when the call returns.
type dayPlan struct {
	query     Query
	variant   Variant
	disclose  bool
	day       schedule.Day
	past      bool
	now       time.Time
	step      int
	minutes   int
	doctors   []Doctor
	names     map[string]string
	assigned  []string
	byDoctor  map[string][]Commitment
	postVisit map[string]int
}

func (e *Engine) plan(ctx context.Context, q Query) (*dayPlan, error) {
	if q.ClinicID == "" {
		return nil, fmt.Errorf("availability: clinic id required")
	}
	s, err := e.settings.Settings(ctx, q.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("availability: load settings: %w", err)
	}
	minutes, err := e.minutes(ctx, q)
	if err != nil {
		return nil, err
	}

	loc := s.Schedule.Location()
	date := inLocation(q.Date, loc)
	now := e.now().In(loc)
	p := &dayPlan{
		query:    q,
		variant:  VariantByName(s.Variant),
		disclose: s.DoctorSelectionEnabled,
		day:      schedule.Resolve(s.Schedule, date),
		past:     date.Before(schedule.DateOnly(now)),
		now:      now,
		step:     e.step,
		minutes:  minutes,
		names:    map[string]string{},
		byDoctor: map[string][]Commitment{},
	}
	if !p.day.Open || p.past {
		return p, nil
	}

	doctors, err := e.doctors.ListDoctors(ctx, q.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("availability: list doctors: %w", err)
	}
	p.doctors = doctors
	for _, d := range doctors {
		p.names[d.ID] = d.Name
	}
	ids := make([]string, 0, len(doctors))
	if q.Any() {
		for _, d := range doctors {
			ids = append(ids, d.ID)
		}
	} else {
		if _, ok := p.names[q.DoctorID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDoctor, q.DoctorID)
		}
		ids = append(ids, q.DoctorID)
	}
	if len(ids) == 0 {
		return p, nil
	}

	commitments, err := e.commitments.ListCommitments(ctx, q.ClinicID, ids, date)
	if err != nil {
		return nil, fmt.Errorf("availability: list commitments: %w", err)
	}
	for _, c := range commitments {
		if !p.variant.counts(c.Source) {
			continue
		}
		if q.ExcludeBookingID != "" && c.BookingID == q.ExcludeBookingID {
			continue
		}
		p.byDoctor[c.DoctorID] = append(p.byDoctor[c.DoctorID], c)
	}

	if !q.Any() {
		return p, nil
	}
	if q.ServiceID != "" {
		assigned, err := e.doctors.AssignedDoctors(ctx, q.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("availability: assigned doctors: %w", err)
		}
		// A service lists at most five doctors, in priority order.
		if len(assigned) > maxPriorityDoctors {
			assigned = assigned[:maxPriorityDoctors]
		}
		p.assigned = assigned
	}
	if e.postVisits != nil && p.variant.PostVisitWeight > 0 {
		counts, err := e.postVisits.PostVisitCaseCounts(ctx, q.ClinicID, ids, date)
		if err != nil {
			return nil, fmt.Errorf("availability: post-visit counts: %w", err)
		}
		p.postVisit = counts
	}
	return p, nil
}

func (e *Engine) minutes(ctx context.Context, q Query) (int, error) {
	minutes := q.Minutes
	if minutes == 0 && q.ServiceID != "" && e.services != nil {
		svc, err := e.services.GetService(ctx, q.ServiceID)
		if err != nil {
			return 0, fmt.Errorf("availability: load service: %w", err)
		}
		minutes = svc.Minutes
	}
	if err := ValidateDuration(minutes, e.step); err != nil {
		return 0, fmt.Errorf("%w: %d minutes", err, minutes)
	}
	return minutes, nil
}

func (p *dayPlan) candidates() []schedule.Clock {
	if p.past {
		return nil
	}
	return schedule.Candidates(p.day, p.step, p.now)
}

func (p *dayPlan) check(doctorID string, start schedule.Clock) Verdict {
	return CheckDoctor(p.day, p.byDoctor[doctorID], doctorID, start, p.minutes)
}

func (p *dayPlan) verdict(start schedule.Clock) Verdict {
	if p.past {
		return Verdict{Reason: ReasonOutsideHours, DoctorID: p.query.DoctorID}
	}
	if !p.query.Any() {
		return p.check(p.query.DoctorID, start)
	}
	sel, err := p.selectAt(start)
	if err != nil {
		if sel.Reason == ReasonOutsideHours {
			return Verdict{Reason: ReasonOutsideHours}
		}
		return Verdict{Reason: ReasonNoAvailableDoctors}
	}
	return Verdict{Feasible: true, Reason: ReasonAvailable, DoctorID: sel.DoctorID}
}

func (p *dayPlan) feasibleStarts() []schedule.Clock {
	var out []schedule.Clock
	for _, c := range p.candidates() {
		if p.verdict(c).Feasible {
			out = append(out, c)
		}
	}
	return out
}

func (p *dayPlan) bookable() bool {
	for _, c := range p.candidates() {
		if p.verdict(c).Feasible {
			return true
		}
	}
	return false
}
