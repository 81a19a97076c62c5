package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

var (
	// Monday.
	today    = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	tuesday  = today.AddDate(0, 0, 1)
	fixedNow = today.Add(7 * time.Hour)
)

func clinicSchedule() *schedule.Config {
	h := schedule.Hours{Start: "09:00", End: "18:00", LunchStart: "13:00", LunchEnd: "14:00"}
	return &schedule.Config{
		ClinicID: "clinic-1",
		Timezone: "UTC",
		Weekdays: map[string]schedule.Hours{
			"monday": h, "tuesday": h, "wednesday": h, "thursday": h, "friday": h,
		},
	}
}

type stubSettings struct{ variant string }

func (s stubSettings) Settings(ctx context.Context, clinicID string) (*availability.Settings, error) {
	return &availability.Settings{Schedule: clinicSchedule(), Variant: s.variant, DoctorSelectionEnabled: true}, nil
}

type stubCommitments []availability.Commitment

func (s stubCommitments) ListCommitments(ctx context.Context, clinicID string, doctorIDs []string, date time.Time) ([]availability.Commitment, error) {
	var out []availability.Commitment
	for _, c := range s {
		if schedule.SameDate(date, c.Date) {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubDoctors []string

func (s stubDoctors) ListDoctors(ctx context.Context, clinicID string) ([]availability.Doctor, error) {
	out := make([]availability.Doctor, 0, len(s))
	for _, id := range s {
		out = append(out, availability.Doctor{ID: id, Name: "Dr " + id})
	}
	return out, nil
}

func (s stubDoctors) AssignedDoctors(ctx context.Context, serviceID string) ([]string, error) {
	return nil, nil
}

func newTestWriter(mock pgxmock.PgxPoolIface, variant string, commitments stubCommitments, doctors ...string) *Writer {
	engine := availability.NewEngine(stubSettings{variant: variant}, commitments, stubDoctors(doctors), nil,
		availability.WithClock(func() time.Time { return fixedNow }))
	w := NewWriter(NewStoreWithDB(mock), engine, nil, nil)
	w.now = func() time.Time { return fixedNow }
	return w
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// Argument counts of the booking insert and the outbox append.
var (
	insertBookingArgs = anyArgs(13)
	appendEventArgs   = anyArgs(5)
)

var bookingCols = []string{"id", "clinic_id", "doctor_id", "service_id", "patient_phone", "patient_name",
	"booking_date", "start_minute", "duration_minutes", "status", "group_id", "reminder_minutes", "notes", "created_at"}

func bookingRow(id uuid.UUID, doctorID string, date time.Time, start string, group uuid.UUID) *pgxmock.Rows {
	return bookingRowWithStatus(id, doctorID, date, start, group, StatusConfirmed)
}

func bookingRowWithStatus(id uuid.UUID, doctorID string, date time.Time, start string, group uuid.UUID, status string) *pgxmock.Rows {
	return pgxmock.NewRows(bookingCols).AddRow(id, "clinic-1", doctorID, "svc-1", "+15550001111", "Ana",
		date, int32(schedule.MustClock(start)), int32(30), status, toPGUUID(group), int32(60), "bring x-ray", fixedNow)
}
