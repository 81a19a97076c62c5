package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionTTL = 24 * time.Hour

// Option is one numbered choice offered in the last reply.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Session is the in-progress booking request for one patient at one clinic.
type Session struct {
	ClinicID    string    `json:"clinic_id"`
	Phone       string    `json:"phone"`
	PatientName string    `json:"patient_name,omitempty"`
	State       State     `json:"state"`
	ServiceID   string    `json:"service_id,omitempty"`
	ServiceName string    `json:"service_name,omitempty"`
	Minutes     int       `json:"minutes,omitempty"`
	DoctorID    string    `json:"doctor_id,omitempty"`
	Date        string    `json:"date,omitempty"`
	BlockID     string    `json:"block_id,omitempty"`
	Slot        string    `json:"slot,omitempty"`
	SlotDoctor  string    `json:"slot_doctor,omitempty"`
	SlotLabel   string    `json:"slot_label,omitempty"`
	Options     []Option  `json:"options,omitempty"`
	BookingID   string    `json:"booking_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Move advances the session, refusing transitions the table does not allow.
func (s *Session) Move(next State) error {
	if !s.State.CanMoveTo(next) {
		return fmt.Errorf("conversation: illegal transition %s -> %s", s.State, next)
	}
	s.State = next
	return nil
}

// Reset clears every collected field.
func (s *Session) Reset() {
	*s = Session{ClinicID: s.ClinicID, Phone: s.Phone, PatientName: s.PatientName}
}

// SessionStore keeps sessions in Redis with a sliding TTL.
type SessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{redis: client, ttl: ttl, tracer: otel.Tracer("clinicbot.internal.conversation.session")}
}

func sessionKey(clinicID, phone string) string {
	return fmt.Sprintf("conversation:session:%s:%s", clinicID, phone)
}

// Load returns the stored session or a fresh idle one.
func (s *SessionStore) Load(ctx context.Context, clinicID, phone string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(clinicID, phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Session{ClinicID: clinicID, Phone: phone}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	return &sess, nil
}

// Save persists the session and refreshes its TTL.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_session")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ClinicID, sess.Phone), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

// Delete drops the session.
func (s *SessionStore) Delete(ctx context.Context, clinicID, phone string) error {
	if err := s.redis.Del(ctx, sessionKey(clinicID, phone)).Err(); err != nil {
		return fmt.Errorf("conversation: failed to delete session: %w", err)
	}
	return nil
}
