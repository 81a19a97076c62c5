package clinic

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

type configStore interface {
	GetProfile(ctx context.Context, clinicID string) (*Profile, error)
	SetProfile(ctx context.Context, p *Profile) error
	GetSchedule(ctx context.Context, clinicID string) (*schedule.Config, error)
	SetSchedule(ctx context.Context, cfg *schedule.Config) error
}

// Handler provides HTTP endpoints for clinic profile and schedule management.
type Handler struct {
	store  configStore
	logger *logging.Logger
}

// NewHandler creates a new clinic admin HTTP handler.
func NewHandler(store configStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// Routes returns a chi router with clinic admin routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{clinicID}/schedule", h.GetSchedule)
	r.Put("/{clinicID}/schedule", h.UpdateSchedule)
	r.Get("/{clinicID}/profile", h.GetProfile)
	r.Put("/{clinicID}/profile", h.UpdateProfile)
	return r
}

// GetSchedule returns the clinic schedule config.
// GET /admin/clinics/{clinicID}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if clinicID == "" {
		http.Error(w, `{"error": "clinic_id required"}`, http.StatusBadRequest)
		return
	}

	cfg, err := h.store.GetSchedule(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic schedule", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		h.logger.Error("failed to encode clinic schedule", "clinic_id", clinicID, "error", err)
	}
}

// UpdateSchedule replaces the clinic schedule config. The whole document is validated
// before it is stored.
// PUT /admin/clinics/{clinicID}/schedule
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if clinicID == "" {
		http.Error(w, `{"error": "clinic_id required"}`, http.StatusBadRequest)
		return
	}

	var cfg schedule.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	cfg.ClinicID = clinicID
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	if err := h.store.SetSchedule(r.Context(), &cfg); err != nil {
		h.logger.Error("failed to save clinic schedule", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "failed to save schedule"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic schedule updated", "clinic_id", clinicID, "timezone", cfg.Timezone)
	writeJSON(w, http.StatusOK, cfg)
}

// GetProfile returns the clinic profile.
// GET /admin/clinics/{clinicID}/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if clinicID == "" {
		http.Error(w, `{"error": "clinic_id required"}`, http.StatusBadRequest)
		return
	}

	p, err := h.store.GetProfile(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic profile", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProfileRequest is the request body for a partial profile update.
type UpdateProfileRequest struct {
	Name                   string `json:"name,omitempty"`
	Variant                string `json:"variant,omitempty"`
	DoctorSelectionEnabled *bool  `json:"doctor_selection_enabled,omitempty"`
	Greeting               string `json:"greeting,omitempty"`
}

// UpdateProfile applies a partial profile update.
// PUT /admin/clinics/{clinicID}/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if clinicID == "" {
		http.Error(w, `{"error": "clinic_id required"}`, http.StatusBadRequest)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	p, err := h.store.GetProfile(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic profile", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	if req.Name != "" {
		p.Name = req.Name
	}
	if req.Variant != "" {
		p.Variant = req.Variant
	}
	if req.DoctorSelectionEnabled != nil {
		p.DoctorSelectionEnabled = *req.DoctorSelectionEnabled
	}
	if req.Greeting != "" {
		p.Greeting = req.Greeting
	}
	p.ClinicID = clinicID
	if err := p.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	if err := h.store.SetProfile(r.Context(), p); err != nil {
		h.logger.Error("failed to save clinic profile", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "failed to save profile"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic profile updated", "clinic_id", clinicID, "variant", p.Variant)
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
