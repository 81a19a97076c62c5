package clinic

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

const availabilityLatencyMetric = "clinicbot_availability_query_latency_seconds"

type dashboardDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type dashboardRepo interface {
	BookingsByDay(ctx context.Context, clinicID string, start, end time.Time) ([]BookingDay, error)
}

// BookingDay counts bookings by booking date.
type BookingDay struct {
	Day       time.Time `json:"-"`
	DayLabel  string    `json:"day"`
	Active    int64     `json:"active"`
	Cancelled int64     `json:"cancelled"`
}

type LatencySnapshot struct {
	Total   int64           `json:"total"`
	P90Ms   float64         `json:"p90_ms"`
	P95Ms   float64         `json:"p95_ms"`
	Buckets []LatencyBucket `json:"buckets"`
}

type LatencyBucket struct {
	LeSeconds float64 `json:"le_seconds"`
	Label     string  `json:"label,omitempty"`
	Count     int64   `json:"count"`
}

type ClinicDashboard struct {
	ClinicID            string          `json:"clinic_id"`
	PeriodStart         string          `json:"period_start"`
	PeriodEnd           string          `json:"period_end"`
	ActiveBookings      int64           `json:"active_bookings"`
	CancelledBookings   int64           `json:"cancelled_bookings"`
	CancellationPct     float64         `json:"cancellation_pct"`
	AvailabilityLatency LatencySnapshot `json:"availability_latency"`
	Daily               []BookingDay    `json:"daily"`
}

// DashboardRepository queries clinic-level booking volume from the database.
type DashboardRepository struct {
	db dashboardDB
}

func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	if pool == nil {
		panic("clinic: pgx pool required for dashboard")
	}
	return &DashboardRepository{db: pool}
}

func NewDashboardRepositoryWithDB(db dashboardDB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

func (r *DashboardRepository) BookingsByDay(ctx context.Context, clinicID string, start, end time.Time) ([]BookingDay, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, fmt.Errorf("clinic dashboard: clinic_id required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("clinic dashboard: invalid date range")
	}

	query := `
		SELECT booking_date,
		       COUNT(*) FILTER (WHERE status <> 'cancelled') AS active,
		       COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM bookings
		WHERE clinic_id = $1
		  AND booking_date >= $2
		  AND booking_date < $3
		GROUP BY booking_date
		ORDER BY booking_date
	`

	rows, err := r.db.Query(ctx, query, clinicID, start, end)
	if err != nil {
		return nil, fmt.Errorf("clinic dashboard: query bookings: %w", err)
	}
	defer rows.Close()

	var results []BookingDay
	for rows.Next() {
		var day time.Time
		var active, cancelled int64
		if err := rows.Scan(&day, &active, &cancelled); err != nil {
			return nil, fmt.Errorf("clinic dashboard: scan bookings: %w", err)
		}
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		results = append(results, BookingDay{
			Day:       day,
			DayLabel:  day.Format(schedule.DateLayout),
			Active:    active,
			Cancelled: cancelled,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic dashboard: iterate bookings: %w", err)
	}
	return results, nil
}

// DashboardHandler serves operational dashboard JSON for a clinic.
type DashboardHandler struct {
	repo     dashboardRepo
	gatherer prometheus.Gatherer
	now      func() time.Time
	logger   *logging.Logger
}

func NewDashboardHandler(repo dashboardRepo, gatherer prometheus.Gatherer, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &DashboardHandler{
		repo:     repo,
		gatherer: gatherer,
		now:      time.Now,
		logger:   logger,
	}
}

// GetDashboard returns booking volume and availability latency.
// GET /api/clinics/{clinicID}/dashboard?start=&end= or ?days=N (default the next 14 days).
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dashboard disabled (db not configured)"})
		return
	}
	window, err := parseDateWindow(r.URL.Query(), h.now(), 14)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	daily, err := h.repo.BookingsByDay(r.Context(), clinicID, window.start, window.end)
	if err != nil {
		h.logger.Error("failed to query dashboard bookings", "clinic_id", clinicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	daily = fillMissingDays(daily, window.start, window.end)

	resp := ClinicDashboard{
		ClinicID:            clinicID,
		PeriodStart:         window.start.Format(schedule.DateLayout),
		PeriodEnd:           window.end.Format(schedule.DateLayout),
		AvailabilityLatency: snapshotLatency(h.gatherer, availabilityLatencyMetric),
		Daily:               daily,
	}
	for _, day := range daily {
		resp.ActiveBookings += day.Active
		resp.CancelledBookings += day.Cancelled
	}
	if total := resp.ActiveBookings + resp.CancelledBookings; total > 0 {
		resp.CancellationPct = float64(resp.CancelledBookings) / float64(total) * 100
	}
	writeJSON(w, http.StatusOK, resp)
}

func fillMissingDays(existing []BookingDay, start, end time.Time) []BookingDay {
	lookup := map[string]BookingDay{}
	for _, d := range existing {
		lookup[d.DayLabel] = d
	}

	out := make([]BookingDay, 0, int(end.Sub(start).Hours()/24)+1)
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(schedule.DateLayout)
		if found, ok := lookup[key]; ok {
			out = append(out, found)
			continue
		}
		out = append(out, BookingDay{Day: day, DayLabel: key})
	}
	return out
}

// snapshotLatency folds every series of a histogram family into one distribution.
func snapshotLatency(gatherer prometheus.Gatherer, name string) LatencySnapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return LatencySnapshot{}
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == name {
			family = mf
			break
		}
	}
	if family == nil {
		return LatencySnapshot{}
	}

	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64
	for _, metric := range family.Metric {
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		sampleCount += h.GetSampleCount()
		for _, b := range h.Bucket {
			cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if sampleCount == 0 || len(cumulativeByUpper) == 0 {
		return LatencySnapshot{}
	}

	uppers := make([]float64, 0, len(cumulativeByUpper)+1)
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	buckets := make([]LatencyBucket, 0, len(uppers)+1)
	var prev uint64
	var lastUpper float64
	for _, upper := range uppers {
		cum := cumulativeByUpper[upper]
		buckets = append(buckets, LatencyBucket{LeSeconds: upper, Count: int64(cum - prev)})
		prev = cum
		lastUpper = upper
	}
	if sampleCount > prev {
		buckets = append(buckets, LatencyBucket{
			LeSeconds: lastUpper,
			Label:     fmt.Sprintf(">%s", formatSeconds(lastUpper)),
			Count:     int64(sampleCount - prev),
		})
	}

	p90 := histogramQuantile(0.90, sampleCount, uppers, cumulativeByUpper)
	p95 := histogramQuantile(0.95, sampleCount, uppers, cumulativeByUpper)
	return LatencySnapshot{
		Total:   int64(sampleCount),
		P90Ms:   p90 * 1000.0,
		P95Ms:   p95 * 1000.0,
		Buckets: buckets,
	}
}

func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	if total == 0 || q <= 0 {
		return 0
	}
	if q >= 1 {
		for i := len(uppers) - 1; i >= 0; i-- {
			if !math.IsInf(uppers[i], 1) {
				return uppers[i]
			}
		}
		return 0
	}

	target := q * float64(total)
	var prevUpper float64
	var prevCum float64

	for _, upper := range uppers {
		cum := float64(cumulativeByUpper[upper])
		if cum < target {
			prevUpper = upper
			prevCum = cum
			continue
		}

		// If we can't interpolate, return the bucket upper bound.
		bucketCount := cum - prevCum
		if bucketCount <= 0 || upper == prevUpper {
			return upper
		}
		if math.IsInf(upper, 1) {
			return prevUpper
		}

		fraction := (target - prevCum) / bucketCount
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}

		lower := prevUpper
		return lower + fraction*(upper-lower)
	}

	return uppers[len(uppers)-1]
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	if seconds < 1 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	if seconds < 10 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.0fs", seconds)
}
