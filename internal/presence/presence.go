// Package presence keeps member liveness fresh: it absorbs client
// heartbeats with a throttled datastore write, and periodically marks
// members who stopped pinging as disconnected.
package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/registry"
)

const (
	// DBWriteInterval throttles last_ping writes per socket.
	DBWriteInterval = time.Minute
	// SweepInterval is how often the stale sweeper runs.
	SweepInterval = time.Minute
	// StaleAfter is how long a lobby member may go without pinging
	// before the sweeper marks them disconnected.
	StaleAfter = 2 * time.Minute
)

// Store is the slice of the datastore presence needs.
type Store interface {
	TouchMemberPing(ctx context.Context, userID uuid.UUID) error
	SweepStaleMembers(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tracker handles heartbeats and runs the stale sweep.
type Tracker struct {
	store    Store
	registry *registry.Registry
	logger   *logrus.Logger
	now      func() time.Time
}

func NewTracker(store Store, reg *registry.Registry, logger *logrus.Logger) *Tracker {
	return &Tracker{store: store, registry: reg, logger: logger, now: time.Now}
}

// Heartbeat records a liveness tick from a socket. The in-memory
// last-activity stamp moves on every tick; the member row moves at most
// once per DBWriteInterval. Store faults here are logged, never
// surfaced: a dropped ping write must not kill the socket.
func (t *Tracker) Heartbeat(ctx context.Context, socketID string) {
	t.registry.Touch(socketID)

	conn, ok := t.registry.Get(socketID)
	if !ok || conn.UserID == uuid.Nil {
		return
	}
	if !t.registry.ShouldWriteHeartbeat(socketID, DBWriteInterval) {
		return
	}
	if err := t.store.TouchMemberPing(ctx, conn.UserID); err != nil {
		t.logger.Warnf("heartbeat: ping write for user %s failed: %v", conn.UserID, err)
	}
}

// SweepOnce marks members whose last ping is older than StaleAfter as
// disconnected. Members located in an external game are left alone; the
// store enforces that.
func (t *Tracker) SweepOnce(ctx context.Context) {
	cutoff := t.now().Add(-StaleAfter)
	n, err := t.store.SweepStaleMembers(ctx, cutoff)
	if err != nil {
		t.logger.Errorf("presence sweep failed: %v", err)
		return
	}
	if n > 0 {
		t.logger.WithField("members", n).Info("presence sweep marked stale members disconnected")
	}
}

// Run drives the sweeper until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepOnce(ctx)
		}
	}
}

// SetNowFunc swaps the sweep clock. Tests only.
func (t *Tracker) SetNowFunc(now func() time.Time) { t.now = now }
