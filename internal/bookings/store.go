// Package bookings persists appointments and exposes the read side the availability
// engine consumes: commitments, doctors, service assignments and post-visit load.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

var (
	ErrWriteConflict   = errors.New("bookings: slot taken by a concurrent write")
	ErrBookingNotFound = errors.New("bookings: booking not found")
	ErrServiceNotFound = errors.New("bookings: service not found")
)

// Booking is one appointment row.
type Booking struct {
	ID              uuid.UUID      `json:"id"`
	ClinicID        string         `json:"clinic_id"`
	DoctorID        string         `json:"doctor_id"`
	ServiceID       string         `json:"service_id"`
	PatientPhone    string         `json:"patient_phone"`
	PatientName     string         `json:"patient_name,omitempty"`
	Date            time.Time      `json:"date"`
	Start           schedule.Clock `json:"start_minute"`
	Minutes         int            `json:"duration_minutes"`
	Status          string         `json:"status"`
	GroupID         pgtype.UUID    `json:"-"`
	ReminderMinutes int            `json:"reminder_minutes,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Group returns the repeated-visit set id, or uuid.Nil.
func (b *Booking) Group() uuid.UUID {
	if !b.GroupID.Valid {
		return uuid.Nil
	}
	return uuid.UUID(b.GroupID.Bytes)
}

// DB is the subset of pgxpool.Pool used by Store; pgxmock satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements the availability collaborators and the booking row operations.
type Store struct {
	db DB
}

// NewStore creates a store backed by a pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Store{db: pool}
}

// NewStoreWithDB allows injecting mocks for tests.
func NewStoreWithDB(db DB) *Store {
	if db == nil {
		panic("bookings: db required")
	}
	return &Store{db: db}
}

// Begin opens a transaction for a booking write.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.db.Begin(ctx)
}

const commitmentsQuery = `
	SELECT doctor_id, start_minute, duration_minutes, source, ref FROM (
		SELECT doctor_id, start_minute, duration_minutes,
		       CASE WHEN status = 'confirmed' THEN 'confirmed' ELSE 'pending' END AS source,
		       id::text AS ref
		FROM bookings
		WHERE clinic_id = $1 AND doctor_id = ANY($2) AND booking_date = $3 AND status <> 'cancelled'
		UNION ALL
		SELECT doctor_id, start_minute, duration_minutes, 'reschedule', booking_id::text
		FROM reschedule_requests
		WHERE clinic_id = $1 AND doctor_id = ANY($2) AND requested_date = $3 AND status = 'accepted'
		UNION ALL
		SELECT doctor_id, start_minute, duration_minutes, 'unavailability', id::text
		FROM doctor_unavailability
		WHERE clinic_id = $1 AND doctor_id = ANY($2) AND unavailable_date = $3
	) c
	ORDER BY doctor_id, start_minute
`

// ListCommitments returns bookings, accepted reschedule requests and unavailability
// records for the doctors on date.
func (s *Store) ListCommitments(ctx context.Context, clinicID string, doctorIDs []string, date time.Time) ([]availability.Commitment, error) {
	rows, err := s.db.Query(ctx, commitmentsQuery, clinicID, doctorIDs, date)
	if err != nil {
		return nil, fmt.Errorf("bookings: list commitments: %w", err)
	}
	defer rows.Close()

	var out []availability.Commitment
	for rows.Next() {
		var (
			c      availability.Commitment
			start  int32
			length int32
			source string
		)
		if err := rows.Scan(&c.DoctorID, &start, &length, &source, &c.BookingID); err != nil {
			return nil, fmt.Errorf("bookings: scan commitment: %w", err)
		}
		c.Date = date
		c.Start = schedule.Clock(start)
		c.Minutes = int(length)
		c.Source = availability.Source(source)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate commitments: %w", err)
	}
	return out, nil
}

// ListDoctors returns the clinic's active doctors ordered by id.
func (s *Store) ListDoctors(ctx context.Context, clinicID string) ([]availability.Doctor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name FROM doctors
		WHERE clinic_id = $1 AND active
		ORDER BY id
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list doctors: %w", err)
	}
	defer rows.Close()

	var out []availability.Doctor
	for rows.Next() {
		var d availability.Doctor
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("bookings: scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AssignedDoctors returns the service's doctors in priority order.
func (s *Store) AssignedDoctors(ctx context.Context, serviceID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT doctor_id FROM service_doctors
		WHERE service_id = $1
		ORDER BY priority, doctor_id
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("bookings: assigned doctors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("bookings: scan assigned doctor: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PostVisitCaseCounts counts same-day post-visit cases per doctor.
func (s *Store) PostVisitCaseCounts(ctx context.Context, clinicID string, doctorIDs []string, date time.Time) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT doctor_id, COUNT(*) FROM post_visit_cases
		WHERE clinic_id = $1 AND doctor_id = ANY($2) AND case_date = $3
		GROUP BY doctor_id
	`, clinicID, doctorIDs, date)
	if err != nil {
		return nil, fmt.Errorf("bookings: post-visit counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("bookings: scan post-visit count: %w", err)
		}
		out[id] = int(n)
	}
	return out, rows.Err()
}

// GetService loads one service.
func (s *Store) GetService(ctx context.Context, serviceID string) (*availability.Service, error) {
	var svc availability.Service
	var minutes int32
	err := s.db.QueryRow(ctx, `
		SELECT id, clinic_id, name, duration_minutes FROM services WHERE id = $1
	`, serviceID).Scan(&svc.ID, &svc.ClinicID, &svc.Name, &minutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: get service: %w", err)
	}
	svc.Minutes = int(minutes)
	return &svc, nil
}

// ListServices returns the clinic's services ordered by name.
func (s *Store) ListServices(ctx context.Context, clinicID string) ([]availability.Service, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, clinic_id, name, duration_minutes FROM services
		WHERE clinic_id = $1
		ORDER BY name
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list services: %w", err)
	}
	defer rows.Close()

	var out []availability.Service
	for rows.Next() {
		var svc availability.Service
		var minutes int32
		if err := rows.Scan(&svc.ID, &svc.ClinicID, &svc.Name, &minutes); err != nil {
			return nil, fmt.Errorf("bookings: scan service: %w", err)
		}
		svc.Minutes = int(minutes)
		out = append(out, svc)
	}
	return out, rows.Err()
}

const bookingColumns = `id, clinic_id, doctor_id, service_id, patient_phone, patient_name,
	booking_date, start_minute, duration_minutes, status, group_id, reminder_minutes, notes, created_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b        Booking
		start    int32
		minutes  int32
		reminder int32
	)
	if err := row.Scan(&b.ID, &b.ClinicID, &b.DoctorID, &b.ServiceID, &b.PatientPhone, &b.PatientName,
		&b.Date, &start, &minutes, &b.Status, &b.GroupID, &reminder, &b.Notes, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Start = schedule.Clock(start)
	b.Minutes = int(minutes)
	b.ReminderMinutes = int(reminder)
	return &b, nil
}

// GetBooking loads a booking by id. When q is a transaction the row is locked.
func (s *Store) GetBooking(ctx context.Context, q Querier, id uuid.UUID) (*Booking, error) {
	if q == nil {
		q = s.db
	}
	sql := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if _, ok := q.(pgx.Tx); ok {
		sql += ` FOR UPDATE`
	}
	b, err := scanBooking(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: get booking: %w", err)
	}
	return b, nil
}

// ListGroup returns every row of a repeated-visit set ordered by date and time.
func (s *Store) ListGroup(ctx context.Context, clinicID string, groupID uuid.UUID) ([]Booking, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE clinic_id = $1 AND group_id = $2
		ORDER BY booking_date, start_minute`, clinicID, groupID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list group: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan group booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Querier is satisfied by the pool and by pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertBooking(ctx context.Context, q Querier, b *Booking) error {
	_, err := q.Exec(ctx, `
		INSERT INTO bookings (id, clinic_id, doctor_id, service_id, patient_phone, patient_name,
			booking_date, start_minute, duration_minutes, status, group_id, reminder_minutes, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.ClinicID, b.DoctorID, b.ServiceID, b.PatientPhone, b.PatientName,
		b.Date, int32(b.Start), int32(b.Minutes), b.Status, b.GroupID, int32(b.ReminderMinutes), b.Notes)
	if err != nil {
		return mapWriteError("insert booking", err)
	}
	return nil
}

func moveBooking(ctx context.Context, q Querier, b *Booking) error {
	ct, err := q.Exec(ctx, `
		UPDATE bookings
		SET booking_date = $2, start_minute = $3, doctor_id = $4, status = $5, group_id = $6, updated_at = now()
		WHERE id = $1
	`, b.ID, b.Date, int32(b.Start), b.DoctorID, b.Status, b.GroupID)
	if err != nil {
		return mapWriteError("update booking", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func deleteBooking(ctx context.Context, q Querier, id uuid.UUID) error {
	ct, err := q.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bookings: delete booking: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func collectIDs(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// mapWriteError turns overlap-guard and uniqueness violations into ErrWriteConflict.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505") {
		return fmt.Errorf("%w: %s", ErrWriteConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("bookings: %s: %w", op, err)
}

func toPGUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}
