package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlobby/lobbyd/internal/registry"
)

type fakeStore struct {
	pings      []uuid.UUID
	sweepCalls []time.Time
	sweepN     int64
	sweepErr   error
}

func (f *fakeStore) TouchMemberPing(_ context.Context, userID uuid.UUID) error {
	f.pings = append(f.pings, userID)
	return nil
}

func (f *fakeStore) SweepStaleMembers(_ context.Context, cutoff time.Time) (int64, error) {
	f.sweepCalls = append(f.sweepCalls, cutoff)
	return f.sweepN, f.sweepErr
}

func newTestTracker(t *testing.T) (*Tracker, *fakeStore, *registry.Registry, *time.Time) {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	store := &fakeStore{}
	reg := registry.New()
	now := time.Now()
	reg.SetNowFunc(func() time.Time { return now })
	tr := NewTracker(store, reg, l)
	tr.SetNowFunc(func() time.Time { return now })
	return tr, store, reg, &now
}

func TestHeartbeatThrottlesDBWrites(t *testing.T) {
	tr, store, reg, now := newTestTracker(t)
	userID := uuid.New()
	reg.Add("sock-1")
	reg.Identify("sock-1", userID, "alice")

	ctx := context.Background()
	tr.Heartbeat(ctx, "sock-1")
	tr.Heartbeat(ctx, "sock-1")
	tr.Heartbeat(ctx, "sock-1")
	require.Len(t, store.pings, 1, "repeated heartbeats within the window must write once")
	assert.Equal(t, userID, store.pings[0])

	*now = now.Add(61 * time.Second)
	tr.Heartbeat(ctx, "sock-1")
	assert.Len(t, store.pings, 2)
}

func TestHeartbeatUnidentifiedSocketSkipsDB(t *testing.T) {
	tr, store, reg, _ := newTestTracker(t)
	reg.Add("sock-1")
	tr.Heartbeat(context.Background(), "sock-1")
	assert.Empty(t, store.pings)
}

func TestHeartbeatUnknownSocketIsNoop(t *testing.T) {
	tr, store, _, _ := newTestTracker(t)
	tr.Heartbeat(context.Background(), "ghost")
	assert.Empty(t, store.pings)
}

func TestSweepUsesTwoMinuteCutoff(t *testing.T) {
	tr, store, _, now := newTestTracker(t)
	store.sweepN = 3

	tr.SweepOnce(context.Background())
	require.Len(t, store.sweepCalls, 1)
	assert.Equal(t, now.Add(-StaleAfter), store.sweepCalls[0])
}

func TestSweepErrorIsSwallowed(t *testing.T) {
	tr, store, _, _ := newTestTracker(t)
	store.sweepErr = errors.New("pg down")
	tr.SweepOnce(context.Background())
	assert.Len(t, store.sweepCalls, 1)
}
