package availability

import (
	"sort"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

// Selection is the doctor chosen for a slot and how it should be shown to the patient.
type Selection struct {
	DoctorID  string          `json:"doctor_id"`
	Reason    Reason          `json:"reason"`
	Policy    SelectionPolicy `json:"policy"`
	Disclosed bool            `json:"disclosed"`
	Label     string          `json:"label"`
}

func (p *dayPlan) selectAt(start schedule.Clock) (Selection, error) {
	if p.past || !p.day.Open {
		return Selection{Reason: ReasonOutsideHours}, ErrClosedDay
	}
	if !p.query.Any() {
		v := p.check(p.query.DoctorID, start)
		if !v.Feasible {
			return Selection{DoctorID: p.query.DoctorID, Reason: v.Reason, Policy: PolicyExplicit}, v.Err()
		}
		return p.selection(p.query.DoctorID, PolicyExplicit), nil
	}

	if len(p.doctors) == 0 {
		return Selection{Reason: ReasonNoAvailableDoctors}, ErrNoDoctorsConfigured
	}
	if !withinHours(p.day, schedule.Interval{Start: start, End: start.Add(p.minutes)}) {
		return Selection{Reason: ReasonOutsideHours}, ErrOutsideHours
	}
	if p.variant.Selection == PolicyPriorityList {
		for _, id := range p.assigned {
			if _, ok := p.names[id]; !ok {
				continue
			}
			if p.check(id, start).Feasible {
				return p.selection(id, PolicyPriorityList), nil
			}
		}
	}
	return p.leastBusy(start)
}

type scored struct {
	id    string
	score int
}

// leastBusy scores every feasible clinic doctor; lower is less busy. Ties go to the
// lexically smallest doctor id.
func (p *dayPlan) leastBusy(start schedule.Clock) (Selection, error) {
	assigned := make(map[string]bool, len(p.assigned))
	for _, id := range p.assigned {
		assigned[id] = true
	}

	var feasible []scored
	allBooked := true
	for _, d := range p.doctors {
		v := p.check(d.ID, start)
		if !v.Feasible {
			if v.Reason != ReasonSlotBooked {
				allBooked = false
			}
			continue
		}
		s := len(p.byDoctor[d.ID])*commitmentWeight + p.postVisit[d.ID]*p.variant.PostVisitWeight
		if assigned[d.ID] {
			s -= assignedBonus
		}
		feasible = append(feasible, scored{id: d.ID, score: s})
	}
	if len(feasible) == 0 {
		if allBooked {
			return Selection{Reason: ReasonSlotBooked}, ErrAllDoctorsBooked
		}
		return Selection{Reason: ReasonNoAvailableDoctors}, ErrNoAvailableDoctors
	}
	sort.Slice(feasible, func(i, j int) bool {
		if feasible[i].score != feasible[j].score {
			return feasible[i].score < feasible[j].score
		}
		return feasible[i].id < feasible[j].id
	})
	return p.selection(feasible[0].id, PolicyLeastBusy), nil
}

func (p *dayPlan) selection(doctorID string, policy SelectionPolicy) Selection {
	sel := Selection{
		DoctorID:  doctorID,
		Reason:    ReasonAvailable,
		Policy:    policy,
		Disclosed: p.disclose,
		Label:     UndisclosedLabel,
	}
	if p.disclose {
		sel.Label = p.names[doctorID]
		if sel.Label == "" {
			sel.Label = doctorID
		}
	}
	return sel
}
