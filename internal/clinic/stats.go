package clinic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Stats summarises booking activity for a clinic over a booking-date range.
type Stats struct {
	ClinicID           string       `json:"clinic_id"`
	Pending            int64        `json:"pending"`
	Confirmed          int64        `json:"confirmed"`
	Cancelled          int64        `json:"cancelled"`
	RepeatedVisitSets  int64        `json:"repeated_visit_sets"`
	RescheduleRequests int64        `json:"reschedule_requests"`
	Doctors            []DoctorLoad `json:"doctors"`
	PeriodStart        string       `json:"period_start"`
	PeriodEnd          string       `json:"period_end"`
}

// DoctorLoad is one doctor's share of the active bookings in the period. It is the
// same commitment count the least-busy policy weighs.
type DoctorLoad struct {
	DoctorID      string `json:"doctor_id"`
	Bookings      int64  `json:"bookings"`
	BookedMinutes int64  `json:"booked_minutes"`
}

// dateWindow is a half-open booking-date range. The zero value means all time.
type dateWindow struct {
	start, end time.Time
}

func (w dateWindow) allTime() bool { return w.start.IsZero() }

// filter renders the SQL predicate on column using placeholders $2 and $3.
func (w dateWindow) filter(column string) (string, []any) {
	if w.allTime() {
		return "", nil
	}
	return fmt.Sprintf(" AND %s >= $2 AND %s < $3", column, column), []any{w.start, w.end}
}

var errWindow = errors.New("invalid window")

// parseDateWindow reads start/end (YYYY-MM-DD, together or not at all). Without them it
// returns the next defaultDays days from today, or all time when defaultDays is zero.
func parseDateWindow(q url.Values, now time.Time, defaultDays int) (dateWindow, error) {
	startRaw, endRaw := strings.TrimSpace(q.Get("start")), strings.TrimSpace(q.Get("end"))
	switch {
	case startRaw != "" && endRaw != "":
		start, err := time.Parse(schedule.DateLayout, startRaw)
		if err != nil {
			return dateWindow{}, fmt.Errorf("%w: start must be YYYY-MM-DD", errWindow)
		}
		end, err := time.Parse(schedule.DateLayout, endRaw)
		if err != nil {
			return dateWindow{}, fmt.Errorf("%w: end must be YYYY-MM-DD", errWindow)
		}
		if !end.After(start) {
			return dateWindow{}, fmt.Errorf("%w: end must be after start", errWindow)
		}
		return dateWindow{start: start, end: end}, nil
	case startRaw != "" || endRaw != "":
		return dateWindow{}, fmt.Errorf("%w: both start and end must be provided, or neither", errWindow)
	}

	days := defaultDays
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 90 {
			return dateWindow{}, fmt.Errorf("%w: days must be 1-90", errWindow)
		}
		days = n
	}
	if days == 0 {
		return dateWindow{}, nil
	}
	today := schedule.DateOnly(now.UTC())
	return dateWindow{start: today, end: today.AddDate(0, 0, days)}, nil
}

type statsDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// StatsRepository queries clinic booking metrics from the database.
type StatsRepository struct {
	db statsDB
}

func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	if pool == nil {
		panic("clinic: pgx pool required for stats")
	}
	return &StatsRepository{db: pool}
}

// NewStatsRepositoryWithDB allows injecting a mock database for testing.
func NewStatsRepositoryWithDB(db statsDB) *StatsRepository {
	return &StatsRepository{db: db}
}

// GetStats aggregates bookings whose booking_date falls in [start, end).
// Nil bounds mean all time.
func (r *StatsRepository) GetStats(ctx context.Context, clinicID string, start, end *time.Time) (*Stats, error) {
	var window dateWindow
	if start != nil && end != nil {
		window = dateWindow{start: *start, end: *end}
	}
	return r.stats(ctx, clinicID, window)
}

func (r *StatsRepository) stats(ctx context.Context, clinicID string, window dateWindow) (*Stats, error) {
	stats := &Stats{ClinicID: clinicID, PeriodStart: "all-time", PeriodEnd: "now", Doctors: []DoctorLoad{}}
	if !window.allTime() {
		stats.PeriodStart = window.start.Format(schedule.DateLayout)
		stats.PeriodEnd = window.end.Format(schedule.DateLayout)
	}

	where, extra := window.filter("booking_date")
	args := append([]any{clinicID}, extra...)
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'confirmed'),
		       COUNT(*) FILTER (WHERE status = 'cancelled'),
		       COUNT(DISTINCT group_id)
		FROM bookings WHERE clinic_id = $1`+where, args...).
		Scan(&stats.Pending, &stats.Confirmed, &stats.Cancelled, &stats.RepeatedVisitSets)
	if err != nil {
		return nil, fmt.Errorf("clinic stats: count bookings: %w", err)
	}

	reqWhere, _ := window.filter("requested_date")
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM reschedule_requests WHERE clinic_id = $1`+reqWhere, args...).
		Scan(&stats.RescheduleRequests)
	if err != nil {
		return nil, fmt.Errorf("clinic stats: count reschedule requests: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT doctor_id, COUNT(*), COALESCE(SUM(duration_minutes), 0)
		FROM bookings
		WHERE clinic_id = $1 AND status <> 'cancelled'`+where+`
		GROUP BY doctor_id
		ORDER BY doctor_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("clinic stats: doctor load: %w", err)
	}
	loads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DoctorLoad, error) {
		var d DoctorLoad
		err := row.Scan(&d.DoctorID, &d.Bookings, &d.BookedMinutes)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("clinic stats: scan doctor load: %w", err)
	}
	stats.Doctors = append(stats.Doctors, loads...)
	return stats, nil
}

// StatsHandler provides HTTP endpoints for clinic statistics.
type StatsHandler struct {
	repo   *StatsRepository
	logger *logging.Logger
	now    func() time.Time
}

func NewStatsHandler(repo *StatsRepository, logger *logging.Logger) *StatsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{repo: repo, logger: logger, now: time.Now}
}

// GetStats returns booking counts and doctor load for a clinic.
// GET /api/clinics/{clinicID}/stats?start=YYYY-MM-DD&end=YYYY-MM-DD (end exclusive; both
// optional, together). Without a range the counts cover all time.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	window, err := parseDateWindow(r.URL.Query(), h.now(), 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	stats, err := h.repo.stats(r.Context(), clinicID, window)
	if err != nil {
		h.logger.Error("failed to get clinic stats", "clinic_id", clinicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
