package availability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

func TestCheckDoctor(t *testing.T) {
	cfg := clinicSchedule()
	h := cfg.Weekdays["tuesday"]
	h.Start = "08:00"
	cfg.Weekdays["tuesday"] = h
	day := schedule.Resolve(cfg, tuesday)

	commitments := []Commitment{
		{DoctorID: "a", Start: schedule.MustClock("09:00"), Minutes: 30, Source: SourceConfirmed},
		{DoctorID: "a", Start: schedule.MustClock("15:00"), Minutes: 60, Source: SourceUnavailability},
		{DoctorID: "b", Start: schedule.MustClock("10:00"), Minutes: 60, Source: SourcePending},
	}

	tests := []struct {
		name    string
		start   string
		minutes int
		want    Reason
	}{
		{"inside existing booking", "09:15", 15, ReasonSlotBooked},
		{"touching end of booking", "09:30", 15, ReasonAvailable},
		{"straddling start of booking", "08:45", 30, ReasonSlotBooked},
		{"touching start of booking", "08:30", 30, ReasonAvailable},
		{"other doctor's booking ignored", "10:00", 60, ReasonAvailable},
		{"unavailability", "15:30", 15, ReasonDoctorUnavailable},
		{"overlaps lunch", "12:45", 30, ReasonOutsideHours},
		{"ends at lunch", "12:30", 30, ReasonAvailable},
		{"before opening", "07:45", 30, ReasonOutsideHours},
		{"runs past close", "17:45", 30, ReasonOutsideHours},
		{"ends at close", "17:30", 30, ReasonAvailable},
		{"zero duration", "10:00", 0, ReasonOutsideHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CheckDoctor(day, commitments, "a", schedule.MustClock(tt.start), tt.minutes)
			assert.Equal(t, tt.want, v.Reason)
			assert.Equal(t, tt.want == ReasonAvailable, v.Feasible)
			assert.Equal(t, "a", v.DoctorID)
		})
	}
}

func TestCheckDoctorClosedDay(t *testing.T) {
	day := schedule.Resolve(clinicSchedule(), tuesday.AddDate(0, 0, 4))
	v := CheckDoctor(day, nil, "a", schedule.MustClock("10:00"), 15)
	assert.False(t, v.Feasible)
	assert.Equal(t, ReasonOutsideHours, v.Reason)
}

func TestVerdictErr(t *testing.T) {
	assert.NoError(t, Verdict{Feasible: true, Reason: ReasonAvailable}.Err())
	assert.ErrorIs(t, Verdict{Reason: ReasonSlotBooked}.Err(), ErrSlotBooked)
	assert.ErrorIs(t, Verdict{Reason: ReasonDoctorUnavailable}.Err(), ErrDoctorUnavailable)
	assert.ErrorIs(t, Verdict{Reason: ReasonOutsideHours}.Err(), ErrOutsideHours)
	assert.ErrorIs(t, Verdict{Reason: ReasonError}.Err(), ErrNoFeasibleSlot)
}

func TestValidateDuration(t *testing.T) {
	assert.NoError(t, ValidateDuration(15, 15))
	assert.NoError(t, ValidateDuration(90, 15))
	assert.NoError(t, ValidateDuration(30, 0))
	assert.ErrorIs(t, ValidateDuration(0, 15), ErrInvalidDuration)
	assert.ErrorIs(t, ValidateDuration(-15, 15), ErrInvalidDuration)
	assert.ErrorIs(t, ValidateDuration(20, 15), ErrInvalidDuration)
}

func TestVariantByName(t *testing.T) {
	assert.Equal(t, TCM, VariantByName(" TCM "))
	assert.Equal(t, Conventional, VariantByName("conventional"))
	assert.Equal(t, Conventional, VariantByName(""))
}
