package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

type stubDashboardRepo struct {
	daily []BookingDay
	err   error

	gotClinic string
	gotStart  time.Time
	gotEnd    time.Time
}

func (s *stubDashboardRepo) BookingsByDay(_ context.Context, clinicID string, start, end time.Time) ([]BookingDay, error) {
	s.gotClinic = clinicID
	s.gotStart = start
	s.gotEnd = end
	return s.daily, s.err
}

type stubGatherer struct {
	families []*dto.MetricFamily
	err      error
}

func (s stubGatherer) Gather() ([]*dto.MetricFamily, error) {
	return s.families, s.err
}

func latencyFamily() *dto.MetricFamily {
	name := availabilityLatencyMetric
	metricType := dto.MetricType_HISTOGRAM
	levelLabel := "level"
	return &dto.MetricFamily{
		Name: &name,
		Type: &metricType,
		Metric: []*dto.Metric{
			{
				Label: []*dto.LabelPair{{Name: &levelLabel, Value: ptrString("slots")}},
				Histogram: &dto.Histogram{
					SampleCount: ptrUint64(6),
					Bucket: []*dto.Bucket{
						{UpperBound: ptrFloat64(1.0), CumulativeCount: ptrUint64(3)},
						{UpperBound: ptrFloat64(2.0), CumulativeCount: ptrUint64(5)},
						{UpperBound: ptrFloat64(3.0), CumulativeCount: ptrUint64(6)},
					},
				},
			},
			{
				Label: []*dto.LabelPair{{Name: &levelLabel, Value: ptrString("blocks")}},
				Histogram: &dto.Histogram{
					SampleCount: ptrUint64(4),
					Bucket: []*dto.Bucket{
						{UpperBound: ptrFloat64(1.0), CumulativeCount: ptrUint64(2)},
						{UpperBound: ptrFloat64(2.0), CumulativeCount: ptrUint64(4)},
						{UpperBound: ptrFloat64(3.0), CumulativeCount: ptrUint64(4)},
					},
				},
			},
		},
	}
}

func TestDashboardHandler_FillsMissingDaysAndAggregates(t *testing.T) {
	clinicID := "clinic-1"
	start := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC)

	repo := &stubDashboardRepo{
		daily: []BookingDay{
			{Day: start, DayLabel: "2026-10-19", Active: 3, Cancelled: 1},
			{Day: start.AddDate(0, 0, 2), DayLabel: "2026-10-21", Active: 4},
		},
	}
	handler := NewDashboardHandler(repo, stubGatherer{families: []*dto.MetricFamily{latencyFamily()}}, logging.Nop())

	r := chi.NewRouter()
	r.Get("/admin/clinics/{clinicID}/dashboard", handler.GetDashboard)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/clinics/"+clinicID+"/dashboard?start=2026-10-19&end=2026-10-22", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ClinicDashboard
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ActiveBookings != 7 || resp.CancelledBookings != 1 {
		t.Fatalf("unexpected totals: active=%d cancelled=%d", resp.ActiveBookings, resp.CancelledBookings)
	}
	if resp.CancellationPct != 12.5 {
		t.Fatalf("cancellation_pct = %f, want 12.5", resp.CancellationPct)
	}
	if len(resp.Daily) != 3 {
		t.Fatalf("daily length = %d, want 3", len(resp.Daily))
	}
	if resp.Daily[1].DayLabel != "2026-10-20" || resp.Daily[1].Active != 0 {
		t.Fatalf("expected 2026-10-20 to be filled with zeros, got %#v", resp.Daily[1])
	}

	if resp.AvailabilityLatency.Total != 10 {
		t.Fatalf("availability_latency.total = %d, want 10", resp.AvailabilityLatency.Total)
	}
	if resp.AvailabilityLatency.P90Ms < 1999 || resp.AvailabilityLatency.P90Ms > 2001 {
		t.Fatalf("availability_latency.p90_ms = %f, want ~2000", resp.AvailabilityLatency.P90Ms)
	}
	if resp.AvailabilityLatency.P95Ms < 2499 || resp.AvailabilityLatency.P95Ms > 2501 {
		t.Fatalf("availability_latency.p95_ms = %f, want ~2500", resp.AvailabilityLatency.P95Ms)
	}

	if repo.gotClinic != clinicID || !repo.gotStart.Equal(start) || !repo.gotEnd.Equal(end) {
		t.Fatalf("repo called with (%q, %s, %s)", repo.gotClinic, repo.gotStart, repo.gotEnd)
	}
}

func TestDashboardHandler_DefaultWindow(t *testing.T) {
	repo := &stubDashboardRepo{}
	handler := NewDashboardHandler(repo, stubGatherer{}, logging.Nop())
	handler.now = func() time.Time { return time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Get("/admin/clinics/{clinicID}/dashboard", handler.GetDashboard)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/clinics/clinic-1/dashboard?days=7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := repo.gotEnd.Sub(repo.gotStart); got != 7*24*time.Hour {
		t.Fatalf("window = %s, want 7 days", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/clinics/clinic-1/dashboard?days=500", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestDashboardRepository_BookingsByDay(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	start := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	mock.ExpectQuery(`FROM bookings\s+WHERE clinic_id = \$1`).
		WithArgs("clinic-1", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"booking_date", "active", "cancelled"}).
			AddRow(start.AddDate(0, 0, 1), int64(5), int64(2)))

	days, err := NewDashboardRepositoryWithDB(mock).BookingsByDay(context.Background(), "clinic-1", start, end)
	if err != nil {
		t.Fatalf("BookingsByDay failed: %v", err)
	}
	if len(days) != 1 || days[0].DayLabel != "2026-10-20" || days[0].Active != 5 {
		t.Fatalf("unexpected rows: %#v", days)
	}
	if _, err := NewDashboardRepositoryWithDB(mock).BookingsByDay(context.Background(), "clinic-1", end, start); err == nil {
		t.Fatalf("expected error for inverted range")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSnapshotLatency_NoMetrics(t *testing.T) {
	lat := snapshotLatency(stubGatherer{families: nil}, availabilityLatencyMetric)
	if lat.Total != 0 {
		t.Fatalf("expected total=0, got %d", lat.Total)
	}
}

var _ prometheus.Gatherer = stubGatherer{}

func ptrString(v string) *string { return &v }

func ptrUint64(v uint64) *uint64 { return &v }

func ptrFloat64(v float64) *float64 { return &v }
