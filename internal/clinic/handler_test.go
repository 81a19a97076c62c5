package clinic

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

func newAdminRouter(t *testing.T) (http.Handler, *Store) {
	t.Helper()
	store, _ := newTestStore(t)
	r := chi.NewRouter()
	r.Mount("/admin/clinics", NewHandler(store, logging.Nop()).Routes())
	return r, store
}

func TestHandlerScheduleRoundTrip(t *testing.T) {
	router, store := newAdminRouter(t)

	body, err := json.Marshal(sampleSchedule("ignored"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/admin/clinics/clinic-1/schedule", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg, err := store.GetSchedule(req.Context(), "clinic-1")
	require.NoError(t, err)
	assert.Equal(t, "clinic-1", cfg.ClinicID)
	assert.Equal(t, []string{"2026-12-25"}, cfg.Holidays)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/clinics/clinic-1/schedule", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got schedule.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "13:00", got.Weekdays["monday"].LunchStart)
}

func TestHandlerScheduleValidation(t *testing.T) {
	router, _ := newAdminRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/clinics/clinic-1/schedule", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := `{"timezone":"UTC","weekdays":{"monday":{"start":"18:00","end":"09:00"}}}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/clinics/clinic-1/schedule", bytes.NewBufferString(bad)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerProfilePartialUpdate(t *testing.T) {
	router, store := newAdminRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/clinics/clinic-1/profile",
		bytes.NewBufferString(`{"variant":"tcm","doctor_selection_enabled":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := store.GetProfile(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "clinic-1")
	require.NoError(t, err)
	assert.Equal(t, "tcm", p.Variant)
	assert.False(t, p.DoctorSelectionEnabled)
	assert.Equal(t, "Clinic", p.Name)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/clinics/clinic-1/profile",
		bytes.NewBufferString(`{"variant":"dental"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
