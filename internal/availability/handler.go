package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Handler exposes the engine over HTTP for staff tooling and the web booking page.
type Handler struct {
	engine       *Engine
	calendarDays int
	logger       *logging.Logger
}

// NewHandler creates an availability HTTP handler.
func NewHandler(engine *Engine, calendarDays int, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("availability: engine required")
	}
	if calendarDays <= 0 {
		calendarDays = 14
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, calendarDays: calendarDays, logger: logger}
}

// Routes mounts under /api/clinics/{clinicID}/availability.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/calendar", h.Calendar)
	r.Get("/blocks", h.Blocks)
	r.Get("/slots", h.Slots)
	r.Get("/nearest", h.Nearest)
	r.Get("/check", h.Check)
	r.Get("/select", h.Select)
	return r
}

// Calendar GET /calendar?from=YYYY-MM-DD&days=N
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, false)
	if !ok {
		return
	}
	days := h.calendarDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 90 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}
	out, err := h.engine.Calendar(r.Context(), q, q.Date, days)
	if err != nil {
		h.fail(w, q, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

// Blocks GET /blocks?date=YYYY-MM-DD
func (h *Handler) Blocks(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, true)
	if !ok {
		return
	}
	out, err := h.engine.AmPmBlocks(r.Context(), q)
	if err != nil {
		h.fail(w, q, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Slots GET /slots?date=YYYY-MM-DD&block=09:00-10:45
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, true)
	if !ok {
		return
	}
	block := r.URL.Query().Get("block")
	out, err := h.engine.SlotsInBlock(r.Context(), q, block)
	if err != nil {
		h.fail(w, q, err)
		return
	}
	if out == nil {
		out = []SlotOption{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"block": block, "slots": out})
}

// Nearest GET /nearest?date=YYYY-MM-DD
func (h *Handler) Nearest(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, true)
	if !ok {
		return
	}
	dates, err := h.engine.NearestBookableDates(r.Context(), q)
	if err != nil {
		h.fail(w, q, err)
		return
	}
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(schedule.DateLayout))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": out})
}

// Check GET /check?date=YYYY-MM-DD&start=HH:MM
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, true)
	if !ok {
		return
	}
	start, err := schedule.ParseClock(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be HH:MM")
		return
	}
	v, err := h.engine.IsFeasible(r.Context(), q, start)
	if err != nil {
		h.fail(w, q, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Select GET /select?date=YYYY-MM-DD&start=HH:MM
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, true)
	if !ok {
		return
	}
	start, err := schedule.ParseClock(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be HH:MM")
		return
	}
	sel, err := h.engine.SelectDoctor(r.Context(), q, start)
	if err != nil {
		h.fail(w, q, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request, dateRequired bool) (Query, bool) {
	v := r.URL.Query()
	q := Query{
		ClinicID:  chi.URLParam(r, "clinicID"),
		DoctorID:  v.Get("doctor_id"),
		ServiceID: v.Get("service_id"),
	}
	if q.ClinicID == "" {
		writeError(w, http.StatusBadRequest, "clinic_id required")
		return q, false
	}
	if raw := v.Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "minutes must be an integer")
			return q, false
		}
		q.Minutes = n
	}
	raw := v.Get("date")
	if raw == "" {
		raw = v.Get("from")
	}
	if raw == "" {
		if dateRequired {
			writeError(w, http.StatusBadRequest, "date required")
			return q, false
		}
		return q, true
	}
	d, err := time.Parse(schedule.DateLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return q, false
	}
	q.Date = d
	return q, true
}

func (h *Handler) fail(w http.ResponseWriter, q Query, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("availability query failed", "clinic_id", q.ClinicID, "doctor_id", q.DoctorID, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// StatusFor maps the availability error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidBlock):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownDoctor):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotBooked), errors.Is(err, ErrAllDoctorsBooked):
		return http.StatusConflict
	case errors.Is(err, ErrDoctorUnavailable), errors.Is(err, ErrOutsideHours),
		errors.Is(err, ErrNoAvailableDoctors), errors.Is(err, ErrNoDoctorsConfigured),
		errors.Is(err, ErrClosedDay), errors.Is(err, ErrNoFeasibleSlot):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
