package grace

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(d time.Duration) *Manager {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	m := NewManager(l)
	m.HostGrace = d
	m.AbandonGrace = d
	return m
}

func TestHostTransferFiresAfterGrace(t *testing.T) {
	m := newTestManager(20 * time.Millisecond)
	roomID, hostID := uuid.New(), uuid.New()

	fired := make(chan uuid.UUID, 1)
	m.ArmHostTransfer(roomID, hostID, func(_, h uuid.UUID) { fired <- h })

	select {
	case h := <-fired:
		assert.Equal(t, hostID, h)
	case <-time.After(time.Second):
		t.Fatal("host-transfer timer never fired")
	}
	assert.False(t, m.HostTransferPending(roomID))
}

func TestHostTransferCancelledByHostReconnect(t *testing.T) {
	m := newTestManager(30 * time.Millisecond)
	roomID, hostID := uuid.New(), uuid.New()

	fired := make(chan struct{}, 1)
	m.ArmHostTransfer(roomID, hostID, func(_, _ uuid.UUID) { fired <- struct{}{} })

	require.True(t, m.CancelHostTransfer(roomID, hostID))
	select {
	case <-fired:
		t.Fatal("timer fired after cancellation")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestHostTransferNotCancelledByOtherUser(t *testing.T) {
	m := newTestManager(time.Minute)
	roomID, hostID := uuid.New(), uuid.New()
	m.ArmHostTransfer(roomID, hostID, func(_, _ uuid.UUID) {})

	assert.False(t, m.CancelHostTransfer(roomID, uuid.New()))
	assert.True(t, m.HostTransferPending(roomID))
}

func TestRearmReplacesPriorTimer(t *testing.T) {
	m := newTestManager(30 * time.Millisecond)
	roomID := uuid.New()
	first, second := uuid.New(), uuid.New()

	var mu sync.Mutex
	var fires []uuid.UUID
	fire := func(_, h uuid.UUID) {
		mu.Lock()
		fires = append(fires, h)
		mu.Unlock()
	}
	m.ArmHostTransfer(roomID, first, fire)
	m.ArmHostTransfer(roomID, second, fire)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fires, 1, "re-arming must replace, not stack")
	assert.Equal(t, second, fires[0])
}

func TestAbandonmentFiresAndCancels(t *testing.T) {
	m := newTestManager(20 * time.Millisecond)
	r1, r2 := uuid.New(), uuid.New()

	fired := make(chan uuid.UUID, 2)
	m.ArmAbandonment(r1, func(id uuid.UUID) { fired <- id })
	m.ArmAbandonment(r2, func(id uuid.UUID) { fired <- id })
	require.True(t, m.CancelAbandonment(r2))

	select {
	case id := <-fired:
		assert.Equal(t, r1, id)
	case <-time.After(time.Second):
		t.Fatal("abandonment timer never fired")
	}
	select {
	case <-fired:
		t.Fatal("cancelled room still fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelAbandonmentWithoutTimer(t *testing.T) {
	m := newTestManager(time.Minute)
	assert.False(t, m.CancelAbandonment(uuid.New()))
}

func TestStopCancelsEverything(t *testing.T) {
	m := newTestManager(30 * time.Millisecond)
	fired := make(chan struct{}, 4)
	for i := 0; i < 2; i++ {
		m.ArmHostTransfer(uuid.New(), uuid.New(), func(_, _ uuid.UUID) { fired <- struct{}{} })
		m.ArmAbandonment(uuid.New(), func(_ uuid.UUID) { fired <- struct{}{} })
	}
	m.Stop()
	select {
	case <-fired:
		t.Fatal("timer fired after Stop")
	case <-time.After(80 * time.Millisecond):
	}
}
