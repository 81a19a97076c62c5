package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newOutboxStoreWithDB(mock)
	ctx := context.Background()

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "clinic_id", "aggregate", "event_type", "payload", "attempts", "created_at"}).
		AddRow(id, "clinic-1", "booking:abc", "booking.created.v1", []byte(`{"booking_id":"abc"}`), 2, now)
	mock.ExpectQuery("SELECT id, clinic_id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, 2, entries[0].Attempts)

	mock.ExpectExec("UPDATE outbox SET delivered_at").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("UPDATE outbox").WithArgs(id, "throttled", 3).
		WillReturnRows(pgxmock.NewRows([]string{"parked"}).AddRow(true))
	parked, err := store.RecordFailure(ctx, id, "throttled", 3)
	require.NoError(t, err)
	assert.True(t, parked)

	require.NoError(t, mock.ExpectationsWereMet())
}

type memoryPending struct {
	entries   []OutboxEntry
	delivered []uuid.UUID
	failures  map[uuid.UUID]int
	max       int
}

func (m *memoryPending) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	return m.entries, nil
}

func (m *memoryPending) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	m.delivered = append(m.delivered, id)
	return true, nil
}

func (m *memoryPending) RecordFailure(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) (bool, error) {
	if m.failures == nil {
		m.failures = map[uuid.UUID]int{}
	}
	m.failures[id]++
	m.max = maxAttempts
	for _, e := range m.entries {
		if e.ID == id {
			return e.Attempts+1 >= maxAttempts, nil
		}
	}
	return false, nil
}

type flakyHandler struct {
	fail map[uuid.UUID]bool
	seen []string
}

func (f *flakyHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	f.seen = append(f.seen, entry.Type)
	if f.fail[entry.ID] {
		return errors.New("transport down")
	}
	return nil
}

func TestDelivererDrainRecordsFailuresAndParks(t *testing.T) {
	good, retry, doomed := uuid.New(), uuid.New(), uuid.New()
	store := &memoryPending{entries: []OutboxEntry{
		{ID: retry, Type: "booking.created.v1", Attempts: 0},
		{ID: good, Type: "booking.cancelled.v1"},
		{ID: doomed, Type: "booking.rescheduled.v1", Attempts: 2},
	}}
	handler := &flakyHandler{fail: map[uuid.UUID]bool{retry: true, doomed: true}}
	d := NewDeliverer(nil, handler, logging.Nop(), WithMaxAttempts(3), WithBatchSize(5))
	d.store = store

	res := d.drain(context.Background())
	assert.Equal(t, drainResult{delivered: 1, failed: 2, parked: 1}, res)
	assert.Equal(t, []uuid.UUID{good}, store.delivered)
	assert.Equal(t, 3, store.max)
	assert.Len(t, handler.seen, 3)
}

func TestDelivererStartWithoutHandlerReturns(t *testing.T) {
	d := NewDeliverer(nil, nil, logging.Nop(), WithInterval(time.Millisecond), WithBatchSize(3))
	done := make(chan struct{})
	go func() {
		d.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately without store or handler")
	}
	assert.Equal(t, int32(3), d.batchSize)
}

type stubSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (s *stubSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.input = params
	return &sqs.SendMessageOutput{}, s.err
}

func TestSQSHandler(t *testing.T) {
	client := &stubSQS{}
	h := NewSQSHandler(client, "https://sqs.local/booking-events")
	entry := OutboxEntry{ID: uuid.New(), ClinicID: "clinic-1", Type: "booking.created.v1", Payload: []byte(`{"x":1}`)}

	if err := h.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if *client.input.QueueUrl != "https://sqs.local/booking-events" || *client.input.MessageBody != `{"x":1}` {
		t.Fatalf("unexpected input: %#v", client.input)
	}
	if *client.input.MessageAttributes["event_type"].StringValue != "booking.created.v1" {
		t.Fatalf("missing event_type attribute")
	}

	client.err = errors.New("throttled")
	if err := h.Handle(context.Background(), entry); err == nil {
		t.Fatal("expected send error")
	}
}

func TestLoggingHandler(t *testing.T) {
	env, err := newEnvelope("clinic-1", "booking:abc", BookingCreatedV1{BookingID: "abc"})
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)

	h := NewLoggingHandler(logging.Nop())
	assert.NoError(t, h.Handle(context.Background(), OutboxEntry{ID: env.ID, ClinicID: "clinic-1", Payload: body}))
	assert.NoError(t, h.Handle(context.Background(), OutboxEntry{ID: uuid.New(), Payload: []byte("garbage")}))
}
