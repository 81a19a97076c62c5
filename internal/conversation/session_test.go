package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSessionStoreRoundTrip(t *testing.T) {
	mr, client := newRedis(t)
	store := NewSessionStore(client, time.Hour)
	ctx := context.Background()

	fresh, err := store.Load(ctx, "clinic-1", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, fresh.State)
	assert.Equal(t, "clinic-1", fresh.ClinicID)

	fresh.State = StateChooseBlock
	fresh.ServiceID = "svc-1"
	fresh.Date = "2026-10-20"
	require.NoError(t, store.Save(ctx, fresh))
	assert.Equal(t, time.Hour, mr.TTL(sessionKey("clinic-1", "+15550001111")))

	loaded, err := store.Load(ctx, "clinic-1", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, StateChooseBlock, loaded.State)
	assert.Equal(t, "2026-10-20", loaded.Date)

	require.NoError(t, store.Delete(ctx, "clinic-1", "+15550001111"))
	loaded, err = store.Load(ctx, "clinic-1", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, loaded.State)
}

func TestSessionStoreExpires(t *testing.T) {
	mr, client := newRedis(t)
	store := NewSessionStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{ClinicID: "c", Phone: "p", State: StateConfirm}))
	mr.FastForward(2 * time.Minute)

	loaded, err := store.Load(ctx, "c", "p")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, loaded.State)
}

func TestSessionResetKeepsIdentity(t *testing.T) {
	sess := &Session{ClinicID: "c", Phone: "p", PatientName: "Ana", State: StateConfirm, ServiceID: "svc", Slot: "09:00"}
	sess.Reset()
	assert.Equal(t, Session{ClinicID: "c", Phone: "p", PatientName: "Ana"}, *sess)
}
