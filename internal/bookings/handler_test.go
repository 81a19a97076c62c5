package bookings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

type fakeWriter struct {
	created     []NewBooking
	seriesLen   int
	rescheduled NewSlot
	single      bool
	err         error
}

func (f *fakeWriter) Create(ctx context.Context, nb NewBooking) (*Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, nb)
	return &Result{
		Booking:   &Booking{ID: uuid.New(), ClinicID: nb.ClinicID, DoctorID: "d1", Date: nb.Date, Start: nb.Start, Minutes: 30, Status: StatusPending},
		Selection: availability.Selection{DoctorID: "d1", Policy: availability.PolicyLeastBusy},
	}, nil
}

func (f *fakeWriter) CreateSeries(ctx context.Context, nb NewBooking, dates []time.Time) ([]Result, error) {
	f.seriesLen = len(dates)
	group := toPGUUID(uuid.New())
	out := make([]Result, 0, len(dates))
	for _, d := range dates {
		out = append(out, Result{Booking: &Booking{ID: uuid.New(), Date: d, Start: nb.Start, GroupID: group, Status: StatusPending}})
	}
	return out, nil
}

func (f *fakeWriter) Reschedule(ctx context.Context, id uuid.UUID, slot NewSlot, singleInstance bool) (*Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.rescheduled, f.single = slot, singleInstance
	return &Booking{ID: id, Date: slot.Date, Start: slot.Start, Status: StatusPending}, nil
}

func (f *fakeWriter) Cancel(ctx context.Context, id uuid.UUID) error { return f.err }

func (f *fakeWriter) CancelGroup(ctx context.Context, clinicID string, groupID uuid.UUID) (int, error) {
	return 3, f.err
}

type fakeReader struct{ group []Booking }

func (f *fakeReader) GetBooking(ctx context.Context, q Querier, id uuid.UUID) (*Booking, error) {
	return nil, ErrBookingNotFound
}

func (f *fakeReader) ListGroup(ctx context.Context, clinicID string, groupID uuid.UUID) ([]Booking, error) {
	return f.group, nil
}

func newTestRouter(w *fakeWriter, r *fakeReader) http.Handler {
	h := NewHandler(w, r, nil)
	router := chi.NewRouter()
	router.Route("/api/clinics/{clinicID}", h.ClinicRoutes)
	router.Route("/api/bookings", h.BookingRoutes)
	return router
}

func TestHandlerCreate(t *testing.T) {
	w := &fakeWriter{}
	router := newTestRouter(w, &fakeReader{})

	body := `{"service_id":"svc-1","patient_phone":"+15550001111","date":"2026-10-20","start":"10:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/clinics/clinic-1/bookings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, w.created, 1)
	assert.Equal(t, "clinic-1", w.created[0].ClinicID)
	assert.Equal(t, schedule.MustClock("10:00"), w.created[0].Start)

	var resp struct {
		Booking struct {
			Date  string `json:"date"`
			Start string `json:"start"`
		} `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-10-20", resp.Booking.Date)
	assert.Equal(t, "10:00", resp.Booking.Start)
}

func TestHandlerCreateSeries(t *testing.T) {
	w := &fakeWriter{}
	router := newTestRouter(w, &fakeReader{})

	body := `{"minutes":30,"patient_phone":"+15550001111","dates":["2026-10-20","2026-10-27","2026-11-03"],"start":"09:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/clinics/clinic-1/bookings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 3, w.seriesLen)
	assert.Contains(t, rec.Body.String(), `"group_id"`)
}

func TestHandlerCreateValidation(t *testing.T) {
	router := newTestRouter(&fakeWriter{}, &fakeReader{})

	cases := map[string]string{
		"missing phone": `{"service_id":"svc-1","date":"2026-10-20","start":"10:00"}`,
		"bad start":     `{"service_id":"svc-1","patient_phone":"+1","date":"2026-10-20","start":"10am"}`,
		"bad date":      `{"service_id":"svc-1","patient_phone":"+1","date":"20/10/2026","start":"10:00"}`,
		"bad json":      `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/clinics/clinic-1/bookings", strings.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrWriteConflict, http.StatusConflict},
		{availability.ErrSlotBooked, http.StatusConflict},
		{availability.ErrOutsideHours, http.StatusUnprocessableEntity},
		{ErrBookingNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		router := newTestRouter(&fakeWriter{err: tc.err}, &fakeReader{})
		body := `{"date":"2026-10-21","start":"15:00","single_instance":true}`
		req := httptest.NewRequest(http.MethodPost, "/api/bookings/"+uuid.NewString()+"/reschedule", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestHandlerRescheduleSingleInstance(t *testing.T) {
	w := &fakeWriter{}
	router := newTestRouter(w, &fakeReader{})

	body := `{"date":"2026-10-21","start":"15:00","single_instance":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/bookings/"+uuid.NewString()+"/reschedule", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, w.single)
	assert.Equal(t, "15:00", w.rescheduled.Start.String())
}

func TestHandlerGroupRoutes(t *testing.T) {
	group := uuid.New()
	reader := &fakeReader{group: []Booking{
		{ID: uuid.New(), Date: tuesday, Start: schedule.MustClock("09:00"), GroupID: toPGUUID(group)},
		{ID: uuid.New(), Date: tuesday.AddDate(0, 0, 7), Start: schedule.MustClock("09:00"), GroupID: toPGUUID(group)},
	}}
	router := newTestRouter(&fakeWriter{}, reader)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/clinics/clinic-1/groups/"+group.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2026-10-27")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/clinics/clinic-1/groups/"+group.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":3}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/clinics/clinic-1/groups/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGetMissingBooking(t *testing.T) {
	router := newTestRouter(&fakeWriter{}, &fakeReader{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bookings/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
