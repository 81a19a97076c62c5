package availability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

var (
	// Monday.
	today    = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	tuesday  = today.AddDate(0, 0, 1)
	fixedNow = today.Add(7 * time.Hour)
)

func weekdayHours() schedule.Hours {
	return schedule.Hours{Start: "09:00", End: "18:00", LunchStart: "13:00", LunchEnd: "14:00"}
}

func clinicSchedule() *schedule.Config {
	h := weekdayHours()
	return &schedule.Config{
		ClinicID: "clinic-1",
		Timezone: "UTC",
		Weekdays: map[string]schedule.Hours{
			"monday": h, "tuesday": h, "wednesday": h, "thursday": h, "friday": h,
		},
	}
}

type fakeSettings struct {
	settings *Settings
	err      error
}

func (f *fakeSettings) Settings(ctx context.Context, clinicID string) (*Settings, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.settings, nil
}

type fakeCommitments struct {
	mu    sync.Mutex
	items []Commitment
	calls int
	err   error
}

func (f *fakeCommitments) ListCommitments(ctx context.Context, clinicID string, doctorIDs []string, date time.Time) ([]Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	want := map[string]bool{}
	for _, id := range doctorIDs {
		want[id] = true
	}
	var out []Commitment
	for _, c := range f.items {
		if want[c.DoctorID] && schedule.SameDate(date, c.Date) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCommitments) add(doctorID string, date time.Time, start string, minutes int, src Source) {
	f.items = append(f.items, Commitment{
		DoctorID: doctorID,
		Date:     date,
		Start:    schedule.MustClock(start),
		Minutes:  minutes,
		Source:   src,
	})
}

type fakeDoctors struct {
	doctors  []Doctor
	assigned map[string][]string
}

func (f *fakeDoctors) ListDoctors(ctx context.Context, clinicID string) ([]Doctor, error) {
	return f.doctors, nil
}

func (f *fakeDoctors) AssignedDoctors(ctx context.Context, serviceID string) ([]string, error) {
	return f.assigned[serviceID], nil
}

type fakeServices map[string]*Service

func (f fakeServices) GetService(ctx context.Context, serviceID string) (*Service, error) {
	svc, ok := f[serviceID]
	if !ok {
		return nil, errors.New("service not found")
	}
	return svc, nil
}

type fakePostVisits map[string]int

func (f fakePostVisits) PostVisitCaseCounts(ctx context.Context, clinicID string, doctorIDs []string, date time.Time) (map[string]int, error) {
	return f, nil
}

type fixture struct {
	settings    *fakeSettings
	commitments *fakeCommitments
	doctors     *fakeDoctors
}

func newFixture(variant string, doctors ...string) *fixture {
	f := &fixture{
		settings: &fakeSettings{settings: &Settings{
			Schedule:               clinicSchedule(),
			Variant:                variant,
			DoctorSelectionEnabled: true,
		}},
		commitments: &fakeCommitments{},
		doctors:     &fakeDoctors{assigned: map[string][]string{}},
	}
	for _, id := range doctors {
		f.doctors.doctors = append(f.doctors.doctors, Doctor{ID: id, Name: "Dr " + id})
	}
	return f
}

func (f *fixture) engine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(f.settings, f.commitments, f.doctors, nil, opts...)
}
