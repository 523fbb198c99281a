// Package grace runs the per-room grace timers: host transfer after a
// host disconnect, and abandonment after the last member disconnects.
// One timer of each kind exists per room; re-arming clears the prior
// timer first so duplicate fires are impossible.
package grace

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Default grace windows. Both are overridable through Manager fields
// before use.
const (
	DefaultHostGrace    = 30 * time.Second
	DefaultAbandonGrace = 2 * time.Minute
)

type pendingHost struct {
	timer  *time.Timer
	hostID uuid.UUID
}

type pendingAbandon struct {
	timer *time.Timer
}

// Manager owns every armed grace timer, keyed by room id.
type Manager struct {
	HostGrace    time.Duration
	AbandonGrace time.Duration

	mu       sync.Mutex
	logger   *logrus.Logger
	hosts    map[uuid.UUID]*pendingHost
	abandons map[uuid.UUID]*pendingAbandon
}

// NewManager returns a Manager with the default windows.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		HostGrace:    DefaultHostGrace,
		AbandonGrace: DefaultAbandonGrace,
		logger:       logger,
		hosts:        make(map[uuid.UUID]*pendingHost),
		abandons:     make(map[uuid.UUID]*pendingAbandon),
	}
}

// ArmHostTransfer schedules fire(roomID, hostID) after the host grace
// window. Any prior host timer for the room is cancelled first.
func (m *Manager) ArmHostTransfer(roomID, hostID uuid.UUID, fire func(roomID, hostID uuid.UUID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.hosts[roomID]; ok {
		prev.timer.Stop()
	}
	p := &pendingHost{hostID: hostID}
	p.timer = time.AfterFunc(m.HostGrace, func() {
		m.mu.Lock()
		current, ok := m.hosts[roomID]
		if !ok || current != p {
			// A newer timer replaced this one while it was firing.
			m.mu.Unlock()
			return
		}
		delete(m.hosts, roomID)
		m.mu.Unlock()
		fire(roomID, hostID)
	})
	m.hosts[roomID] = p
	m.logger.WithFields(logrus.Fields{"room": roomID, "host": hostID}).
		Debug("host-transfer grace armed")
}

// CancelHostTransfer cancels the pending host timer when the same user
// reconnects. Reconnects by other users leave the timer running.
// Returns true if a timer was cancelled.
func (m *Manager) CancelHostTransfer(roomID, reconnectedUserID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.hosts[roomID]
	if !ok || p.hostID != reconnectedUserID {
		return false
	}
	p.timer.Stop()
	delete(m.hosts, roomID)
	m.logger.WithField("room", roomID).Debug("host-transfer grace cancelled")
	return true
}

// HostTransferPending reports whether a host timer is armed for the room.
func (m *Manager) HostTransferPending(roomID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hosts[roomID]
	return ok
}

// ArmAbandonment schedules fire(roomID) after the abandonment window.
func (m *Manager) ArmAbandonment(roomID uuid.UUID, fire func(roomID uuid.UUID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.abandons[roomID]; ok {
		prev.timer.Stop()
	}
	p := &pendingAbandon{}
	p.timer = time.AfterFunc(m.AbandonGrace, func() {
		m.mu.Lock()
		current, ok := m.abandons[roomID]
		if !ok || current != p {
			m.mu.Unlock()
			return
		}
		delete(m.abandons, roomID)
		m.mu.Unlock()
		fire(roomID)
	})
	m.abandons[roomID] = p
	m.logger.WithField("room", roomID).Debug("abandonment grace armed")
}

// CancelAbandonment cancels the pending abandonment timer; any join
// qualifies. Returns true if a timer was cancelled.
func (m *Manager) CancelAbandonment(roomID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.abandons[roomID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(m.abandons, roomID)
	m.logger.WithField("room", roomID).Debug("abandonment grace cancelled")
	return true
}

// AbandonmentPending reports whether an abandonment timer is armed.
func (m *Manager) AbandonmentPending(roomID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.abandons[roomID]
	return ok
}

// Stop cancels every armed timer. Shutdown only.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.hosts {
		p.timer.Stop()
		delete(m.hosts, id)
	}
	for id, p := range m.abandons {
		p.timer.Stop()
		delete(m.abandons, id)
	}
}
