package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

type bookingService interface {
	Create(ctx context.Context, nb NewBooking) (*Result, error)
	CreateSeries(ctx context.Context, nb NewBooking, dates []time.Time) ([]Result, error)
	Reschedule(ctx context.Context, id uuid.UUID, slot NewSlot, singleInstance bool) (*Booking, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	CancelGroup(ctx context.Context, clinicID string, groupID uuid.UUID) (int, error)
}

type bookingReader interface {
	GetBooking(ctx context.Context, q Querier, id uuid.UUID) (*Booking, error)
	ListGroup(ctx context.Context, clinicID string, groupID uuid.UUID) ([]Booking, error)
}

// Handler serves booking writes for staff tooling.
type Handler struct {
	writer bookingService
	reader bookingReader
	logger *logging.Logger
}

// NewHandler creates a bookings HTTP handler.
func NewHandler(writer bookingService, reader bookingReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{writer: writer, reader: reader, logger: logger}
}

// ClinicRoutes mounts under /api/clinics/{clinicID}.
func (h *Handler) ClinicRoutes(r chi.Router) {
	r.Post("/bookings", h.Create)
	r.Get("/groups/{groupID}", h.GetGroup)
	r.Delete("/groups/{groupID}", h.CancelGroup)
}

// BookingRoutes mounts under /api/bookings.
func (h *Handler) BookingRoutes(r chi.Router) {
	r.Get("/{bookingID}", h.Get)
	r.Post("/{bookingID}/reschedule", h.Reschedule)
	r.Delete("/{bookingID}", h.Cancel)
}

// CreateRequest books one slot, or the same slot on several dates when Dates is set.
type CreateRequest struct {
	DoctorID        string   `json:"doctor_id"`
	ServiceID       string   `json:"service_id"`
	PatientPhone    string   `json:"patient_phone"`
	PatientName     string   `json:"patient_name"`
	Date            string   `json:"date"`
	Dates           []string `json:"dates"`
	Start           string   `json:"start"`
	Minutes         int      `json:"minutes"`
	ReminderMinutes int      `json:"reminder_minutes"`
	Notes           string   `json:"notes"`
}

// RescheduleRequest moves a booking.
type RescheduleRequest struct {
	Date           string `json:"date"`
	Start          string `json:"start"`
	DoctorID       string `json:"doctor_id"`
	SingleInstance bool   `json:"single_instance"`
}

// BookingView is the JSON shape of a booking.
type BookingView struct {
	*Booking
	Date    string `json:"date"`
	Start   string `json:"start"`
	GroupID string `json:"group_id,omitempty"`
}

func view(b *Booking) BookingView {
	v := BookingView{Booking: b, Date: b.Date.Format(schedule.DateLayout), Start: b.Start.String()}
	if g := b.Group(); g != uuid.Nil {
		v.GroupID = g.String()
	}
	return v
}

// Create POST /api/clinics/{clinicID}/bookings
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.PatientPhone == "" || (req.ServiceID == "" && req.Minutes == 0) {
		http.Error(w, `{"error":"patient_phone and service_id or minutes are required"}`, http.StatusBadRequest)
		return
	}
	start, err := schedule.ParseClock(req.Start)
	if err != nil {
		http.Error(w, `{"error":"start must be HH:MM"}`, http.StatusBadRequest)
		return
	}
	raw := req.Dates
	if len(raw) == 0 {
		raw = []string{req.Date}
	}
	dates := make([]time.Time, 0, len(raw))
	for _, d := range raw {
		parsed, err := time.Parse(schedule.DateLayout, d)
		if err != nil {
			http.Error(w, `{"error":"dates must be YYYY-MM-DD"}`, http.StatusBadRequest)
			return
		}
		dates = append(dates, parsed)
	}

	nb := NewBooking{
		ClinicID:        clinicID,
		DoctorID:        req.DoctorID,
		ServiceID:       req.ServiceID,
		PatientPhone:    req.PatientPhone,
		PatientName:     req.PatientName,
		Date:            dates[0],
		Start:           start,
		Minutes:         req.Minutes,
		ReminderMinutes: req.ReminderMinutes,
		Notes:           req.Notes,
		CorrelationID:   r.Header.Get("X-Request-ID"),
	}

	if len(req.Dates) > 0 {
		results, err := h.writer.CreateSeries(r.Context(), nb, dates)
		if err != nil {
			h.fail(w, "create series", err)
			return
		}
		out := make([]BookingView, 0, len(results))
		for _, res := range results {
			out = append(out, view(res.Booking))
		}
		writeJSON(w, http.StatusCreated, map[string]any{"bookings": out})
		return
	}

	res, err := h.writer.Create(r.Context(), nb)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": view(res.Booking), "selection": res.Selection})
}

// Get GET /api/bookings/{bookingID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.reader.GetBooking(r.Context(), nil, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, view(b))
}

// Reschedule POST /api/bookings/{bookingID}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	date, err := time.Parse(schedule.DateLayout, req.Date)
	if err != nil {
		http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}
	start, err := schedule.ParseClock(req.Start)
	if err != nil {
		http.Error(w, `{"error":"start must be HH:MM"}`, http.StatusBadRequest)
		return
	}
	b, err := h.writer.Reschedule(r.Context(), id, NewSlot{Date: date, Start: start, DoctorID: req.DoctorID}, req.SingleInstance)
	if err != nil {
		h.fail(w, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, view(b))
}

// Cancel DELETE /api/bookings/{bookingID}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	if err := h.writer.Cancel(r.Context(), id); err != nil {
		h.fail(w, "cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGroup GET /api/clinics/{clinicID}/groups/{groupID}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupParam(w, r)
	if !ok {
		return
	}
	list, err := h.reader.ListGroup(r.Context(), chi.URLParam(r, "clinicID"), groupID)
	if err != nil {
		h.fail(w, "list group", err)
		return
	}
	out := make([]BookingView, 0, len(list))
	for i := range list {
		out = append(out, view(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": groupID.String(), "bookings": out})
}

// CancelGroup DELETE /api/clinics/{clinicID}/groups/{groupID}
func (h *Handler) CancelGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupParam(w, r)
	if !ok {
		return
	}
	n, err := h.writer.CancelGroup(r.Context(), chi.URLParam(r, "clinicID"), groupID)
	if err != nil {
		h.fail(w, "cancel group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func groupParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		http.Error(w, `{"error":"invalid group id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var status int
	switch {
	case errors.Is(err, ErrBookingNotFound), errors.Is(err, ErrServiceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrWriteConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrEmptySeries):
		status = http.StatusBadRequest
	default:
		status = availability.StatusFor(err)
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("booking request failed", "op", op, "error", err)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
