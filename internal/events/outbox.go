package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// OutboxEntry is one undelivered envelope.
type OutboxEntry struct {
	ID        uuid.UUID
	ClinicID  string
	Aggregate string
	Type      string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// DeliveryHandler hands an entry to a downstream transport.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type outboxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxStore reads envelopes written by Append and records delivery outcomes.
// Entries that keep failing are parked and no longer fetched.
type OutboxStore struct {
	db outboxDB
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{db: pool}
}

func newOutboxStoreWithDB(db outboxDB) *OutboxStore {
	return &OutboxStore{db: db}
}

// FetchPending returns up to limit undelivered, unparked entries, oldest first.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, clinic_id, aggregate, event_type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND parked_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxEntry, error) {
		var e OutboxEntry
		var payload []byte
		err := row.Scan(&e.ID, &e.ClinicID, &e.Aggregate, &e.Type, &payload, &e.Attempts, &e.CreatedAt)
		e.Payload = payload
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("events: scan outbox: %w", err)
	}
	return entries, nil
}

// MarkDelivered acknowledges an entry. It reports false when another deliverer got there first.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE outbox SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordFailure counts a failed attempt and parks the entry once maxAttempts is reached.
func (s *OutboxStore) RecordFailure(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) (bool, error) {
	var parked bool
	err := s.db.QueryRow(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    parked_at = CASE WHEN attempts + 1 >= $3 THEN now() ELSE NULL END
		WHERE id = $1
		RETURNING parked_at IS NOT NULL`, id, cause, maxAttempts).Scan(&parked)
	if err != nil {
		return false, fmt.Errorf("events: record failure: %w", err)
	}
	return parked, nil
}

type pendingStore interface {
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	RecordFailure(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) (bool, error)
}

// DelivererOption tunes a Deliverer.
type DelivererOption func(*Deliverer)

func WithBatchSize(size int32) DelivererOption {
	return func(d *Deliverer) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

func WithInterval(interval time.Duration) DelivererOption {
	return func(d *Deliverer) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithMaxAttempts sets how many failed deliveries park an entry.
func WithMaxAttempts(n int) DelivererOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// Deliverer polls the outbox and relays booking events to the handler.
type Deliverer struct {
	store       pendingStore
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	maxAttempts int
}

// NewDeliverer returns a deliverer whose Start is a no-op when store or handler is nil.
func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger, opts ...DelivererOption) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Deliverer{handler: handler, logger: logger, batchSize: 25, interval: 2 * time.Second, maxAttempts: 10}
	if store != nil {
		d.store = store
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start drains the outbox every interval until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

type drainResult struct {
	delivered, failed, parked int
}

func (d *Deliverer) drain(ctx context.Context) drainResult {
	var res drainResult
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return res
	}
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			res.failed++
			parked, recErr := d.store.RecordFailure(ctx, entry.ID, err.Error(), d.maxAttempts)
			if recErr != nil {
				d.logger.Error("failed to record outbox failure", "error", recErr, "event_id", entry.ID)
				continue
			}
			if parked {
				res.parked++
				d.logger.Error("booking event parked", "event_id", entry.ID, "type", entry.Type,
					"clinic_id", entry.ClinicID, "attempts", entry.Attempts+1, "error", err)
				continue
			}
			d.logger.Warn("booking event delivery failed", "event_id", entry.ID, "type", entry.Type,
				"attempts", entry.Attempts+1, "error", err)
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			res.delivered++
		}
	}
	if res.delivered+res.failed > 0 {
		d.logger.Debug("outbox drained", "delivered", res.delivered, "failed", res.failed, "parked", res.parked)
	}
	return res
}

// LoggingHandler acknowledges events by logging them. Used when no queue is configured.
type LoggingHandler struct {
	logger *logging.Logger
}

func NewLoggingHandler(logger *logging.Logger) *LoggingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LoggingHandler{logger: logger}
}

// Handle logs the booking fact carried by entry. Undecodable payloads are logged and
// still acknowledged; retrying cannot fix them.
func (h *LoggingHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	log := h.logger.ForClinic(entry.ClinicID).With("event_id", entry.ID, "type", entry.Type)
	_, evt, err := Decode(entry.Payload)
	if err != nil {
		log.Warn("undecodable booking event", "error", err)
		return nil
	}
	switch e := evt.(type) {
	case *BookingCreatedV1:
		log.Info("booking event", "booking_id", e.BookingID, "date", e.Slot.Date, "start", e.Slot.Start,
			"doctor_id", e.Slot.DoctorID, "group_id", e.GroupID)
	case *BookingRescheduledV1:
		log.Info("booking event", "booking_id", e.BookingID, "new_booking_id", e.NewBookingID,
			"from", e.Previous.Date+" "+e.Previous.Start, "to", e.Current.Date+" "+e.Current.Start)
	case *BookingCancelledV1:
		log.Info("booking event", "bookings", len(e.BookingIDs), "group_id", e.GroupID, "mode", e.Mode)
	}
	return nil
}
