package availability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Mount("/api/clinics/{clinicID}/availability", NewHandler(f.engine(), 14, nil).Routes())
	return r
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerBlocks(t *testing.T) {
	f := newFixture("conventional", "a")
	rec := doGet(t, newTestRouter(f), "/api/clinics/clinic-1/availability/blocks?date=2026-10-20&minutes=30")
	require.Equal(t, http.StatusOK, rec.Code)

	var out Blocks
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.AM, 2)
	assert.Equal(t, "09:00-10:45", out.AM[0].ID)
}

func TestHandlerSlots(t *testing.T) {
	f := newFixture("conventional", "a")
	h := newTestRouter(f)

	rec := doGet(t, h, "/api/clinics/clinic-1/availability/slots?date=2026-10-20&minutes=30&block=17:00-18:45")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Slots []SlotOption `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Slots, 3)
	assert.Equal(t, "Dr a", out.Slots[0].Label)

	rec = doGet(t, h, "/api/clinics/clinic-1/availability/slots?date=2026-10-20&minutes=30&block=evening")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerValidation(t *testing.T) {
	h := newTestRouter(newFixture("conventional", "a"))

	rec := doGet(t, h, "/api/clinics/clinic-1/availability/blocks?minutes=30")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, h, "/api/clinics/clinic-1/availability/blocks?date=20-10-2026&minutes=30")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, h, "/api/clinics/clinic-1/availability/blocks?date=2026-10-20&minutes=25")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, h, "/api/clinics/clinic-1/availability/check?date=2026-10-20&minutes=30&start=late")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSelectConflict(t *testing.T) {
	f := newFixture("conventional", "a")
	f.commitments.add("a", tuesday, "10:00", 30, SourceConfirmed)
	h := newTestRouter(f)

	rec := doGet(t, h, "/api/clinics/clinic-1/availability/select?date=2026-10-20&minutes=30&start=10:00")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doGet(t, h, "/api/clinics/clinic-1/availability/select?date=2026-10-20&minutes=30&start=10:30")
	require.Equal(t, http.StatusOK, rec.Code)
	var sel Selection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sel))
	assert.Equal(t, "a", sel.DoctorID)
}

func TestHandlerCalendarAndNearest(t *testing.T) {
	h := newTestRouter(newFixture("conventional", "a"))

	rec := doGet(t, h, "/api/clinics/clinic-1/availability/calendar?minutes=30&days=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var cal struct {
		Days []DayStatus `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cal))
	assert.Len(t, cal.Days, 3)

	rec = doGet(t, h, "/api/clinics/clinic-1/availability/nearest?date=2026-10-24&minutes=30")
	require.Equal(t, http.StatusOK, rec.Code)
	var near struct {
		Dates []string `json:"dates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &near))
	require.NotEmpty(t, near.Dates)
	assert.Equal(t, "2026-10-20", near.Dates[0])
	assert.Len(t, near.Dates, 8)
}

func TestHandlerStoreFailure(t *testing.T) {
	f := newFixture("conventional", "a")
	f.commitments.err = assert.AnError
	rec := doGet(t, newTestRouter(f), "/api/clinics/clinic-1/availability/check?date=2026-10-20&minutes=30&start=10:00")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
