package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Event is a versioned booking fact. It is written to the outbox in the same
// transaction as the row change it describes.
type Event interface {
	EventType() string
}

// Envelope is what the outbox stores and what downstream consumers receive.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	ClinicID      string          `json:"clinic_id"`
	Aggregate     string          `json:"aggregate"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes a generated envelope.
type EnvelopeOption func(*Envelope)

// WithEventID pins the envelope id. Nil ids are ignored.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.ID = id
		}
	}
}

// WithOccurredAt overrides the event time. Zero times are ignored.
func WithOccurredAt(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.OccurredAt = ts.UTC()
		}
	}
}

// WithCorrelationID ties the event to the inbound message or request that caused it.
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) {
		e.CorrelationID = strings.TrimSpace(id)
	}
}

var (
	ErrUnknownEventType = errors.New("events: unknown event type")

	nowFunc = time.Now
)

// registry maps stored type names back to their payload structs.
var registry = map[string]func() Event{
	BookingCreatedV1{}.EventType():     func() Event { return &BookingCreatedV1{} },
	BookingRescheduledV1{}.EventType(): func() Event { return &BookingRescheduledV1{} },
	BookingCancelledV1{}.EventType():   func() Event { return &BookingCancelledV1{} },
}

func newEnvelope(clinicID, aggregate string, evt Event, opts ...EnvelopeOption) (Envelope, error) {
	if evt == nil {
		return Envelope{}, errors.New("events: event required")
	}
	env := Envelope{
		ID:         uuid.New(),
		Type:       strings.TrimSpace(evt.EventType()),
		ClinicID:   strings.TrimSpace(clinicID),
		Aggregate:  strings.TrimSpace(aggregate),
		OccurredAt: nowFunc().UTC(),
	}
	for field, value := range map[string]string{"clinic id": env.ClinicID, "aggregate": env.Aggregate, "event type": env.Type} {
		if value == "" {
			return Envelope{}, fmt.Errorf("events: %s required", field)
		}
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", env.Type, err)
	}
	env.Payload = payload
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Append writes evt to the outbox through exec, normally the transaction that
// carries the booking change.
func Append(ctx context.Context, exec Execer, clinicID, aggregate string, evt Event, opts ...EnvelopeOption) (Envelope, error) {
	if exec == nil {
		return Envelope{}, errors.New("events: exec required")
	}
	env, err := newEnvelope(clinicID, aggregate, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	_, err = exec.Exec(ctx,
		`INSERT INTO outbox (id, clinic_id, aggregate, event_type, payload) VALUES ($1, $2, $3, $4, $5)`,
		env.ID, env.ClinicID, env.Aggregate, env.Type, body)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.Type, err)
	}
	return env, nil
}

// Decode parses a stored envelope and its typed payload.
func Decode(body []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("events: decode envelope: %w", err)
	}
	factory, ok := registry[env.Type]
	if !ok {
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	evt := factory()
	if err := json.Unmarshal(env.Payload, evt); err != nil {
		return env, nil, fmt.Errorf("events: decode %s: %w", env.Type, err)
	}
	return env, evt, nil
}
