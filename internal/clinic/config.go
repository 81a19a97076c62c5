package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
)

// Profile is the clinic-level behaviour switch board.
type Profile struct {
	ClinicID string `json:"clinic_id"`
	Name     string `json:"name"`
	// Variant is "conventional" or "tcm".
	Variant                string `json:"variant"`
	DoctorSelectionEnabled bool   `json:"doctor_selection_enabled"`
	// Greeting is sent when a new WhatsApp conversation starts.
	Greeting string `json:"greeting,omitempty"`
}

// Validate rejects unknown variants.
func (p *Profile) Validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Variant)) {
	case availability.Conventional.Name, availability.TCM.Name:
		return nil
	default:
		return fmt.Errorf("clinic: unknown variant %q", p.Variant)
	}
}

// DefaultProfile returns the profile used before staff configure the clinic.
func DefaultProfile(clinicID string) *Profile {
	return &Profile{
		ClinicID:               clinicID,
		Name:                   "Clinic",
		Variant:                availability.Conventional.Name,
		DoctorSelectionEnabled: true,
	}
}

// DefaultSchedule is closed every day until staff configure hours.
func DefaultSchedule(clinicID string) *schedule.Config {
	return &schedule.Config{
		ClinicID: clinicID,
		Timezone: "UTC",
		Weekdays: map[string]schedule.Hours{},
	}
}

// Store persists clinic profiles and schedule configs in Redis.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new clinic store.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("clinic: redis client required")
	}
	return &Store{redis: redisClient}
}

func profileKey(clinicID string) string {
	return fmt.Sprintf("clinic:profile:%s", clinicID)
}

func scheduleKey(clinicID string) string {
	return fmt.Sprintf("clinic:schedule:%s", clinicID)
}

// GetProfile returns the stored profile or the default.
func (s *Store) GetProfile(ctx context.Context, clinicID string) (*Profile, error) {
	var p Profile
	found, err := s.getJSON(ctx, profileKey(clinicID), &p)
	if err != nil {
		return nil, fmt.Errorf("clinic: get profile: %w", err)
	}
	if !found {
		return DefaultProfile(clinicID), nil
	}
	return &p, nil
}

// SetProfile validates and saves a profile.
func (s *Store) SetProfile(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.setJSON(ctx, profileKey(p.ClinicID), p); err != nil {
		return fmt.Errorf("clinic: set profile: %w", err)
	}
	return nil
}

// GetSchedule returns the stored schedule config or a closed default.
func (s *Store) GetSchedule(ctx context.Context, clinicID string) (*schedule.Config, error) {
	var cfg schedule.Config
	found, err := s.getJSON(ctx, scheduleKey(clinicID), &cfg)
	if err != nil {
		return nil, fmt.Errorf("clinic: get schedule: %w", err)
	}
	if !found {
		return DefaultSchedule(clinicID), nil
	}
	return &cfg, nil
}

// SetSchedule validates and saves a schedule config.
func (s *Store) SetSchedule(ctx context.Context, cfg *schedule.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.setJSON(ctx, scheduleKey(cfg.ClinicID), cfg); err != nil {
		return fmt.Errorf("clinic: set schedule: %w", err)
	}
	return nil
}

// Settings satisfies availability.SettingsReader. Every call reads Redis; nothing derived
// from the schedule is cached.
func (s *Store) Settings(ctx context.Context, clinicID string) (*availability.Settings, error) {
	p, err := s.GetProfile(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.GetSchedule(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return &availability.Settings{
		Schedule:               cfg,
		Variant:                p.Variant,
		DoctorSelectionEnabled: p.DoctorSelectionEnabled,
	}, nil
}

func (s *Store) getJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.redis.Set(ctx, key, data, 0).Err()
}
