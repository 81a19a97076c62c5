package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/events"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var bookingsTracer = otel.Tracer("clinicbot.internal.bookings")

// ErrEmptySeries is returned when a repeated-visit request carries no dates.
var ErrEmptySeries = errors.New("bookings: series needs at least one date")

// NewBooking is a confirmed patient request. An empty DoctorID lets the clinic's
// selection policy choose; a zero Minutes takes the service duration.
type NewBooking struct {
	ClinicID        string
	DoctorID        string
	ServiceID       string
	PatientPhone    string
	PatientName     string
	Date            time.Time
	Start           schedule.Clock
	Minutes         int
	ReminderMinutes int
	Notes           string
	CorrelationID   string
}

// NewSlot is the target of a reschedule. An empty DoctorID keeps the current doctor.
type NewSlot struct {
	Date     time.Time
	Start    schedule.Clock
	DoctorID string
}

// Result pairs a stored booking with the selection that placed it.
type Result struct {
	Booking   *Booking               `json:"booking"`
	Selection availability.Selection `json:"selection"`
}

// Writer is the only component that mutates bookings. Every write re-runs the selection
// policy against fresh commitments, and the bookings_no_overlap exclusion constraint
// rejects whatever still races past that check.
type Writer struct {
	store   *Store
	engine  *availability.Engine
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewWriter wires the writer to its store and availability engine.
func NewWriter(store *Store, engine *availability.Engine, m *metrics.BookingMetrics, logger *logging.Logger) *Writer {
	if store == nil {
		panic("bookings: store required")
	}
	if engine == nil {
		panic("bookings: availability engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Writer{store: store, engine: engine, metrics: m, logger: logger, now: time.Now}
}

// Create validates and stores one pending booking.
func (w *Writer) Create(ctx context.Context, nb NewBooking) (*Result, error) {
	ctx, span := w.start(ctx, "bookings.create", nb.ClinicID)
	defer span.End()

	results, err := w.create(ctx, nb, []time.Time{nb.Date}, uuid.Nil)
	w.finish(span, "create", err)
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// CreateSeries books the same time on every date as one repeated-visit set. The set is
// stored atomically: if any date is infeasible nothing is written.
func (w *Writer) CreateSeries(ctx context.Context, nb NewBooking, dates []time.Time) ([]Result, error) {
	ctx, span := w.start(ctx, "bookings.create_series", nb.ClinicID)
	defer span.End()

	if len(dates) == 0 {
		w.finish(span, "create_series", ErrEmptySeries)
		return nil, ErrEmptySeries
	}
	results, err := w.create(ctx, nb, dates, uuid.New())
	w.finish(span, "create_series", err)
	return results, err
}

func (w *Writer) create(ctx context.Context, nb NewBooking, dates []time.Time, groupID uuid.UUID) ([]Result, error) {
	minutes, err := w.minutes(ctx, nb.ServiceID, nb.Minutes)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(dates))
	for _, date := range dates {
		q := availability.Query{
			ClinicID:  nb.ClinicID,
			DoctorID:  nb.DoctorID,
			ServiceID: nb.ServiceID,
			Date:      date,
			Minutes:   minutes,
		}
		sel, err := w.engine.SelectDoctor(ctx, q, nb.Start)
		if err != nil {
			return nil, fmt.Errorf("bookings: %s %s: %w", date.Format(schedule.DateLayout), nb.Start, err)
		}
		results = append(results, Result{
			Booking: &Booking{
				ID:              uuid.New(),
				ClinicID:        nb.ClinicID,
				DoctorID:        sel.DoctorID,
				ServiceID:       nb.ServiceID,
				PatientPhone:    nb.PatientPhone,
				PatientName:     nb.PatientName,
				Date:            schedule.DateOnly(date),
				Start:           nb.Start,
				Minutes:         minutes,
				Status:          StatusPending,
				GroupID:         toPGUUID(groupID),
				ReminderMinutes: nb.ReminderMinutes,
				Notes:           nb.Notes,
				CreatedAt:       w.now().UTC(),
			},
			Selection: sel,
		})
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		b := r.Booking
		if err := insertBooking(ctx, tx, b); err != nil {
			return nil, err
		}
		evt := events.BookingCreatedV1{
			BookingID:    b.ID.String(),
			ClinicID:     b.ClinicID,
			ServiceID:    b.ServiceID,
			PatientPhone: b.PatientPhone,
			Slot:         slotOf(b),
			Policy:       string(r.Selection.Policy),
			CreatedAt:    b.CreatedAt,
		}
		if groupID != uuid.Nil {
			evt.GroupID = groupID.String()
		}
		if _, err := events.Append(ctx, tx, b.ClinicID, "booking:"+b.ID.String(), evt,
			events.WithCorrelationID(nb.CorrelationID)); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapWriteError("commit create", err)
	}

	for _, r := range results {
		w.logger.Info("booking created", "clinic_id", r.Booking.ClinicID, "booking_id", r.Booking.ID,
			"doctor_id", r.Booking.DoctorID, "date", r.Booking.Date.Format(schedule.DateLayout),
			"start", r.Booking.Start.String(), "policy", r.Selection.Policy)
	}
	return results, nil
}

// Reschedule moves a booking to slot. The conventional variant replaces the row, carrying
// duration and reminder metadata over; the TCM variant updates it in place. Either way the
// booking returns to pending. singleInstance detaches the row from its repeated-visit set.
func (w *Writer) Reschedule(ctx context.Context, id uuid.UUID, slot NewSlot, singleInstance bool) (*Booking, error) {
	ctx, span := w.start(ctx, "bookings.reschedule", "")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id.String()))

	b, err := w.reschedule(ctx, id, slot, singleInstance)
	w.finish(span, "reschedule", err)
	return b, err
}

func (w *Writer) reschedule(ctx context.Context, id uuid.UUID, slot NewSlot, singleInstance bool) (*Booking, error) {
	current, err := w.store.GetBooking(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		return nil, ErrBookingNotFound
	}
	variant, err := w.engine.Variant(ctx, current.ClinicID)
	if err != nil {
		return nil, err
	}

	sel, err := w.selectForReschedule(ctx, current, slot)
	if err != nil {
		return nil, err
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := w.store.GetBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	// The row may have been cancelled or edited between the unlocked read and the lock.
	if locked.Status == StatusCancelled {
		return nil, ErrBookingNotFound
	}
	if locked.Minutes != current.Minutes || locked.DoctorID != current.DoctorID || locked.ServiceID != current.ServiceID {
		if sel, err = w.selectForReschedule(ctx, locked, slot); err != nil {
			return nil, err
		}
	}
	next := *locked
	next.Date = schedule.DateOnly(slot.Date)
	next.Start = slot.Start
	next.DoctorID = sel.DoctorID
	next.Status = StatusPending
	detached := singleInstance && locked.GroupID.Valid
	if detached {
		next.GroupID = pgtype.UUID{}
	}

	switch variant.Reschedule {
	case availability.RescheduleInPlace:
		if err := moveBooking(ctx, tx, &next); err != nil {
			return nil, err
		}
	default:
		if err := deleteBooking(ctx, tx, locked.ID); err != nil {
			return nil, err
		}
		next.ID = uuid.New()
		next.CreatedAt = w.now().UTC()
		if err := insertBooking(ctx, tx, &next); err != nil {
			return nil, err
		}
	}

	evt := events.BookingRescheduledV1{
		BookingID:     locked.ID.String(),
		NewBookingID:  next.ID.String(),
		ClinicID:      locked.ClinicID,
		Previous:      slotOf(locked),
		Current:       slotOf(&next),
		DetachedGroup: detached,
		RescheduledAt: w.now().UTC(),
	}
	if _, err := events.Append(ctx, tx, locked.ClinicID, "booking:"+locked.ID.String(), evt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapWriteError("commit reschedule", err)
	}

	w.logger.Info("booking rescheduled", "clinic_id", next.ClinicID, "booking_id", locked.ID,
		"new_booking_id", next.ID, "mode", variant.Reschedule, "detached", detached)
	return &next, nil
}

func (w *Writer) selectForReschedule(ctx context.Context, b *Booking, slot NewSlot) (availability.Selection, error) {
	doctorID := slot.DoctorID
	if doctorID == "" {
		doctorID = b.DoctorID
	}
	sel, err := w.engine.SelectDoctor(ctx, availability.Query{
		ClinicID:         b.ClinicID,
		DoctorID:         doctorID,
		ServiceID:        b.ServiceID,
		Date:             slot.Date,
		Minutes:          b.Minutes,
		ExcludeBookingID: b.ID.String(),
	}, slot.Start)
	if err != nil {
		return availability.Selection{}, fmt.Errorf("bookings: reschedule %s: %w", b.ID, err)
	}
	return sel, nil
}

// CancelGroup cancels every booking of a repeated-visit set and returns how many rows
// were affected.
func (w *Writer) CancelGroup(ctx context.Context, clinicID string, groupID uuid.UUID) (int, error) {
	ctx, span := w.start(ctx, "bookings.cancel_group", clinicID)
	defer span.End()

	n, err := w.cancel(ctx, clinicID, "booking-group:"+groupID.String(), groupID.String(),
		`clinic_id = $1 AND group_id = $2`, clinicID, groupID)
	w.finish(span, "cancel_group", err)
	return n, err
}

// Cancel cancels a single booking.
func (w *Writer) Cancel(ctx context.Context, id uuid.UUID) error {
	ctx, span := w.start(ctx, "bookings.cancel", "")
	defer span.End()

	current, err := w.store.GetBooking(ctx, nil, id)
	if err != nil {
		w.finish(span, "cancel", err)
		return err
	}
	_, err = w.cancel(ctx, current.ClinicID, "booking:"+id.String(), "",
		`clinic_id = $1 AND id = $2`, current.ClinicID, id)
	w.finish(span, "cancel", err)
	return err
}

func (w *Writer) cancel(ctx context.Context, clinicID, aggregate, groupID, where string, args ...any) (int, error) {
	variant, err := w.engine.Variant(ctx, clinicID)
	if err != nil {
		return 0, err
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var sql string
	switch variant.Cancel {
	case availability.CancelSoft:
		sql = `UPDATE bookings SET status = 'cancelled', updated_at = now() WHERE ` + where +
			` AND status <> 'cancelled' RETURNING id`
	default:
		sql = `DELETE FROM bookings WHERE ` + where + ` RETURNING id`
	}
	ids, err := collectIDs(ctx, tx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("bookings: cancel: %w", err)
	}
	if len(ids) == 0 {
		return 0, ErrBookingNotFound
	}

	evt := events.BookingCancelledV1{
		ClinicID:    clinicID,
		GroupID:     groupID,
		Mode:        string(variant.Cancel),
		CancelledAt: w.now().UTC(),
	}
	for _, id := range ids {
		evt.BookingIDs = append(evt.BookingIDs, id.String())
	}
	if _, err := events.Append(ctx, tx, clinicID, aggregate, evt); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("bookings: commit cancel: %w", err)
	}

	w.logger.Info("bookings cancelled", "clinic_id", clinicID, "count", len(ids), "group_id", groupID, "mode", variant.Cancel)
	return len(ids), nil
}

func (w *Writer) minutes(ctx context.Context, serviceID string, minutes int) (int, error) {
	if minutes == 0 && serviceID != "" {
		svc, err := w.store.GetService(ctx, serviceID)
		if err != nil {
			return 0, err
		}
		minutes = svc.Minutes
	}
	if err := availability.ValidateDuration(minutes, w.engine.Step()); err != nil {
		return 0, fmt.Errorf("%w: %d minutes", err, minutes)
	}
	return minutes, nil
}

func (w *Writer) start(ctx context.Context, name, clinicID string) (context.Context, trace.Span) {
	ctx, span := bookingsTracer.Start(ctx, name)
	if clinicID != "" {
		span.SetAttributes(attribute.String("clinic.id", clinicID))
	}
	return ctx, span
}

func (w *Writer) finish(span trace.Span, op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrWriteConflict):
		outcome = "conflict"
	case errors.Is(err, ErrBookingNotFound), isAvailabilityRejection(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("bookings.outcome", outcome))
	w.metrics.ObserveWrite(op, outcome)
}

func isAvailabilityRejection(err error) bool {
	for _, target := range []error{
		availability.ErrSlotBooked, availability.ErrDoctorUnavailable, availability.ErrOutsideHours,
		availability.ErrAllDoctorsBooked, availability.ErrNoAvailableDoctors, availability.ErrNoDoctorsConfigured,
		availability.ErrClosedDay, availability.ErrInvalidDuration, availability.ErrUnknownDoctor,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func slotOf(b *Booking) events.BookingSlot {
	return events.BookingSlot{
		Date:            b.Date.Format(schedule.DateLayout),
		Start:           b.Start.String(),
		DurationMinutes: b.Minutes,
		DoctorID:        b.DoctorID,
	}
}
