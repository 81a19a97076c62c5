// Package availability answers "can this doctor (or any doctor) see this patient at this
// time?" on top of the resolved clinic schedule, and aggregates the answer into the
// date, AM/PM block and slot views the conversation flow offers.
package availability

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

// Source identifies which table a commitment was read from.
type Source string

const (
	SourceConfirmed      Source = "confirmed"
	SourcePending        Source = "pending"
	SourceReschedule     Source = "reschedule"
	SourceUnavailability Source = "unavailability"
)

// Commitment is anything that occupies a doctor's time on a date.
type Commitment struct {
	DoctorID  string
	Date      time.Time
	Start     schedule.Clock
	Minutes   int
	Source    Source
	BookingID string
}

// End returns the exclusive end of the commitment.
func (c Commitment) End() schedule.Clock {
	return c.Start.Add(c.Minutes)
}

// Interval returns the half-open span the commitment occupies.
func (c Commitment) Interval() schedule.Interval {
	return schedule.Interval{Start: c.Start, End: c.End()}
}

// Reason is the outcome code of a feasibility check.
type Reason string

const (
	ReasonAvailable          Reason = "available"
	ReasonSlotBooked         Reason = "slot_booked"
	ReasonDoctorUnavailable  Reason = "doctor_unavailable"
	ReasonNoAvailableDoctors Reason = "no_available_doctors"
	ReasonOutsideHours       Reason = "outside_hours"
	ReasonError              Reason = "error"
)

var (
	ErrClosedDay           = errors.New("availability: clinic closed on date")
	ErrNoFeasibleSlot      = errors.New("availability: no feasible slot")
	ErrDoctorUnavailable   = errors.New("availability: doctor unavailable")
	ErrSlotBooked          = errors.New("availability: slot already booked")
	ErrOutsideHours        = errors.New("availability: outside operating hours")
	ErrAllDoctorsBooked    = errors.New("availability: all doctors booked")
	ErrNoDoctorsConfigured = errors.New("availability: no doctors configured")
	ErrNoAvailableDoctors  = errors.New("availability: no available doctors")
	ErrInvalidDuration     = errors.New("availability: invalid duration")
	ErrUnknownDoctor       = errors.New("availability: doctor not found in clinic")
	ErrInvalidBlock        = errors.New("availability: invalid block id")
)

// Verdict is the answer for one doctor (or the selected doctor) at one start time.
type Verdict struct {
	Feasible bool   `json:"feasible"`
	Reason   Reason `json:"reason"`
	DoctorID string `json:"doctor_id,omitempty"`
}

// Err maps an infeasible verdict onto the matching sentinel error.
func (v Verdict) Err() error {
	switch v.Reason {
	case ReasonAvailable:
		return nil
	case ReasonSlotBooked:
		return ErrSlotBooked
	case ReasonDoctorUnavailable:
		return ErrDoctorUnavailable
	case ReasonOutsideHours:
		return ErrOutsideHours
	case ReasonNoAvailableDoctors:
		return ErrNoAvailableDoctors
	default:
		return ErrNoFeasibleSlot
	}
}

// Query scopes an availability question. An empty DoctorID means "any available doctor".
// Minutes may be left zero when ServiceID names a service in the catalog.
// ExcludeBookingID drops a booking's own commitments, so a reschedule does not collide
// with the slot it is leaving.
type Query struct {
	ClinicID         string
	DoctorID         string
	ServiceID        string
	Date             time.Time
	Minutes          int
	ExcludeBookingID string
}

// Any reports whether the query lets the clinic pick the doctor.
func (q Query) Any() bool {
	return q.DoctorID == ""
}

// Doctor is a clinic doctor as seen by the selection policy.
type Doctor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service is a bookable clinic service.
type Service struct {
	ID       string `json:"id"`
	ClinicID string `json:"clinic_id"`
	Name     string `json:"name"`
	Minutes  int    `json:"duration_minutes"`
}

// Settings is the clinic-level input the engine needs besides the schedule.
type Settings struct {
	Schedule               *schedule.Config
	Variant                string
	DoctorSelectionEnabled bool
}

// SettingsReader loads a clinic's schedule and profile.
type SettingsReader interface {
	Settings(ctx context.Context, clinicID string) (*Settings, error)
}

// CommitmentReader lists every commitment for the given doctors on date.
type CommitmentReader interface {
	ListCommitments(ctx context.Context, clinicID string, doctorIDs []string, date time.Time) ([]Commitment, error)
}

// DoctorDirectory lists clinic doctors and per-service assignments.
// AssignedDoctors returns ids in priority order.
type DoctorDirectory interface {
	ListDoctors(ctx context.Context, clinicID string) ([]Doctor, error)
	AssignedDoctors(ctx context.Context, serviceID string) ([]string, error)
}

// ServiceReader resolves a service's duration.
type ServiceReader interface {
	GetService(ctx context.Context, serviceID string) (*Service, error)
}

// PostVisitCounter counts same-day post-visit cases per doctor. Optional.
type PostVisitCounter interface {
	PostVisitCaseCounts(ctx context.Context, clinicID string, doctorIDs []string, date time.Time) (map[string]int, error)
}

// ValidateDuration rejects durations that are not a positive multiple of step.
func ValidateDuration(minutes, step int) error {
	if step <= 0 {
		step = schedule.DefaultStep
	}
	if minutes <= 0 || minutes%step != 0 {
		return ErrInvalidDuration
	}
	return nil
}
