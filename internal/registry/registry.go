// Package registry tracks live socket connections in memory: who is on
// which socket, which room they are bound to, join locks, and per-socket
// rate limits. The store remains authoritative for persistent state; the
// registry is authoritative for socket liveness only.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlobby/lobbyd/internal/metrics"
)

// Connection is the transient in-memory record for one socket. A socket
// has at most one Connection; a user may hold many (multiple tabs).
type Connection struct {
	SocketID    string
	UserID      uuid.UUID // uuid.Nil until identified
	Username    string
	RoomID      uuid.UUID // uuid.Nil until joined
	RoomCode    string
	ConnectedAt time.Time

	// LastActivity is bumped on every inbound frame.
	LastActivity time.Time
	// LastDBUpdate throttles heartbeat writes to the member row.
	LastDBUpdate time.Time
}

// Rate limits per socket per sliding minute.
const (
	LimitCreateRoom  = 5
	LimitJoinRoom    = 10
	LimitSendMessage = 30
	LimitStartGame   = 3
	LimitDefault     = 60

	rateWindow = time.Minute
	lockTTL    = 30 * time.Second
	staleAfter = 5 * time.Minute
)

// LimitFor returns the per-minute budget for an inbound action.
func LimitFor(action string) int {
	switch action {
	case "createRoom":
		return LimitCreateRoom
	case "joinRoom":
		return LimitJoinRoom
	case "chat:message":
		return LimitSendMessage
	case "startGame":
		return LimitStartGame
	default:
		return LimitDefault
	}
}

type joinLock struct {
	socketID string
	takenAt  time.Time
}

// Registry is the process-wide connection index.
type Registry struct {
	mu          sync.Mutex
	connections map[string]*Connection          // socketID -> conn
	userSockets map[uuid.UUID]map[string]bool   // userID -> set of socketIDs
	joinLocks   map[string]joinLock             // username|roomCode -> owner
	attempts    map[string]map[string][]time.Time // socketID -> action -> timestamps

	// now is swappable in tests.
	now func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		userSockets: make(map[uuid.UUID]map[string]bool),
		joinLocks:   make(map[string]joinLock),
		attempts:    make(map[string]map[string][]time.Time),
		now:         time.Now,
	}
}

// Add registers a freshly accepted socket.
func (r *Registry) Add(socketID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	conn := &Connection{
		SocketID:     socketID,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.connections[socketID] = conn
	metrics.ActiveConnections.Set(float64(len(r.connections)))
	return conn
}

// Remove drops a socket and all its indexes. Returns the removed
// connection snapshot, or nil if unknown.
func (r *Registry) Remove(socketID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[socketID]
	if !ok {
		return nil
	}
	delete(r.connections, socketID)
	delete(r.attempts, socketID)
	if conn.UserID != uuid.Nil {
		if set, ok := r.userSockets[conn.UserID]; ok {
			delete(set, socketID)
			if len(set) == 0 {
				delete(r.userSockets, conn.UserID)
			}
		}
	}
	for key, lock := range r.joinLocks {
		if lock.socketID == socketID {
			delete(r.joinLocks, key)
		}
	}
	metrics.ActiveConnections.Set(float64(len(r.connections)))
	snapshot := *conn
	return &snapshot
}

// Get returns a snapshot of the connection for socketID.
func (r *Registry) Get(socketID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[socketID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// Identify binds a user to the socket and indexes the reverse map.
func (r *Registry) Identify(socketID string, userID uuid.UUID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[socketID]
	if !ok {
		return false
	}
	if conn.UserID != uuid.Nil && conn.UserID != userID {
		// Re-identification to a different user: drop the old index.
		if set, ok := r.userSockets[conn.UserID]; ok {
			delete(set, socketID)
			if len(set) == 0 {
				delete(r.userSockets, conn.UserID)
			}
		}
	}
	conn.UserID = userID
	conn.Username = username
	set, ok := r.userSockets[userID]
	if !ok {
		set = make(map[string]bool)
		r.userSockets[userID] = set
	}
	set[socketID] = true
	return true
}

// BindRoom records the socket's current room.
func (r *Registry) BindRoom(socketID string, roomID uuid.UUID, roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[socketID]; ok {
		conn.RoomID = roomID
		conn.RoomCode = roomCode
	}
}

// UnbindRoom clears the socket's room binding.
func (r *Registry) UnbindRoom(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[socketID]; ok {
		conn.RoomID = uuid.Nil
		conn.RoomCode = ""
	}
}

// Touch bumps LastActivity for an inbound frame.
func (r *Registry) Touch(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[socketID]; ok {
		conn.LastActivity = r.now()
	}
}

// ShouldWriteHeartbeat reports whether the throttled member-row write is
// due (at most once per interval) and, if so, stamps LastDBUpdate.
func (r *Registry) ShouldWriteHeartbeat(socketID string, interval time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[socketID]
	if !ok {
		return false
	}
	now := r.now()
	if now.Sub(conn.LastDBUpdate) < interval {
		return false
	}
	conn.LastDBUpdate = now
	return true
}

// SocketsForUser returns the socket ids currently held by the user.
func (r *Registry) SocketsForUser(userID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.userSockets[userID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// UserOnline reports whether the user holds at least one live socket.
func (r *Registry) UserOnline(userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userSockets[userID]) > 0
}

// AcquireLock takes the advisory (username, roomCode) join lock for
// socketID. It fails only when a different socket holds an unexpired
// lock; re-entry by the same socket succeeds.
func (r *Registry) AcquireLock(username, roomCode, socketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := username + "|" + roomCode
	now := r.now()
	if lock, ok := r.joinLocks[key]; ok {
		if lock.socketID != socketID && now.Sub(lock.takenAt) < lockTTL {
			return false
		}
	}
	r.joinLocks[key] = joinLock{socketID: socketID, takenAt: now}
	return true
}

// ReleaseLock releases the join lock if socketID owns it.
func (r *Registry) ReleaseLock(username, roomCode, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := username + "|" + roomCode
	if lock, ok := r.joinLocks[key]; ok && lock.socketID == socketID {
		delete(r.joinLocks, key)
	}
}

// TrackAttempt records an action occurrence in the sliding window.
func (r *Registry) TrackAttempt(socketID, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byAction, ok := r.attempts[socketID]
	if !ok {
		byAction = make(map[string][]time.Time)
		r.attempts[socketID] = byAction
	}
	byAction[action] = append(r.pruned(byAction[action]), r.now())
}

// IsRateLimited reports whether the socket exceeded max occurrences of
// action within the sliding window. Enforcement is approximate and
// per-process.
func (r *Registry) IsRateLimited(socketID, action string, max int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	byAction, ok := r.attempts[socketID]
	if !ok {
		return false
	}
	byAction[action] = r.pruned(byAction[action])
	limited := len(byAction[action]) >= max
	if limited {
		metrics.RateLimitRejections.WithLabelValues(action).Inc()
	}
	return limited
}

// pruned drops timestamps older than the window. Caller holds the lock.
func (r *Registry) pruned(ts []time.Time) []time.Time {
	cutoff := r.now().Add(-rateWindow)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// SweepStale removes connections idle past the stale threshold and
// returns snapshots so the caller can reconcile member rows.
func (r *Registry) SweepStale() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-staleAfter)
	var removed []Connection
	for id, conn := range r.connections {
		if conn.LastActivity.Before(cutoff) {
			removed = append(removed, *conn)
			delete(r.connections, id)
			delete(r.attempts, id)
			if conn.UserID != uuid.Nil {
				if set, ok := r.userSockets[conn.UserID]; ok {
					delete(set, id)
					if len(set) == 0 {
						delete(r.userSockets, conn.UserID)
					}
				}
			}
		}
	}
	for key, lock := range r.joinLocks {
		if lock.takenAt.Before(r.now().Add(-lockTTL)) {
			delete(r.joinLocks, key)
		}
	}
	metrics.ActiveConnections.Set(float64(len(r.connections)))
	return removed
}

// Len returns the live connection count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// SetNowFunc swaps the clock. Tests only.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
