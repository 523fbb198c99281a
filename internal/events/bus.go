package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/metrics"
)

// Subscriber is one socket's ordered outbound queue. The write pump
// drains Out; Publish* never block on a slow consumer.
type Subscriber struct {
	SocketID string
	Out      chan Envelope
}

// Write pushes an envelope non-blockingly, dropping on a full queue.
func (s *Subscriber) Write(logger *logrus.Logger, env Envelope) {
	select {
	case s.Out <- env:
	default:
		logger.Warnf("subscriber %s: out queue full, dropped event %q", s.SocketID, env.Event)
	}
}

// Bus fans events out on three channel kinds: per-room (keyed by room
// code), per-user ("user:{id}"), and direct socket. Publishing happens
// under one mutex, so every subscriber of a room observes that room's
// events in emission order; cross-channel ordering is not guaranteed.
type Bus struct {
	mu      sync.Mutex
	logger  *logrus.Logger
	sockets map[string]*Subscriber
	rooms   map[string]map[string]*Subscriber    // roomCode -> socketID -> sub
	users   map[uuid.UUID]map[string]*Subscriber // userID -> socketID -> sub

	lastVersion int64
	now         func() time.Time
}

// NewBus returns an empty Bus.
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		logger:  logger,
		sockets: make(map[string]*Subscriber),
		rooms:   make(map[string]map[string]*Subscriber),
		users:   make(map[uuid.UUID]map[string]*Subscriber),
		now:     time.Now,
	}
}

// Register creates the subscriber for a freshly accepted socket. The
// queue depth absorbs bursts (full player-list rebroadcasts) without
// blocking room mutation paths.
func (b *Bus) Register(socketID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{
		SocketID: socketID,
		Out:      make(chan Envelope, 64),
	}
	b.sockets[socketID] = sub
	return sub
}

// Unregister removes the socket from every channel and closes its queue.
func (b *Bus) Unregister(socketID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.sockets[socketID]
	if !ok {
		return
	}
	delete(b.sockets, socketID)
	for code, subs := range b.rooms {
		delete(subs, socketID)
		if len(subs) == 0 {
			delete(b.rooms, code)
		}
	}
	for id, subs := range b.users {
		delete(subs, socketID)
		if len(subs) == 0 {
			delete(b.users, id)
		}
	}
	metrics.TrackedRooms.Set(float64(len(b.rooms)))
	close(sub.Out)
}

// JoinRoom subscribes the socket to a room channel.
func (b *Bus) JoinRoom(socketID, roomCode string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.sockets[socketID]
	if !ok {
		return false
	}
	subs, ok := b.rooms[roomCode]
	if !ok {
		subs = make(map[string]*Subscriber)
		b.rooms[roomCode] = subs
	}
	subs[socketID] = sub
	metrics.TrackedRooms.Set(float64(len(b.rooms)))
	return true
}

// LeaveRoom unsubscribes the socket from a room channel.
func (b *Bus) LeaveRoom(socketID, roomCode string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.rooms[roomCode]; ok {
		delete(subs, socketID)
		if len(subs) == 0 {
			delete(b.rooms, roomCode)
		}
	}
	metrics.TrackedRooms.Set(float64(len(b.rooms)))
}

// JoinUser subscribes the socket to its user channel ("user:{id}").
func (b *Bus) JoinUser(socketID string, userID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.sockets[socketID]
	if !ok {
		return false
	}
	subs, ok := b.users[userID]
	if !ok {
		subs = make(map[string]*Subscriber)
		b.users[userID] = subs
	}
	subs[socketID] = sub
	return true
}

// InLobbyRoom reports whether the socket is subscribed to any room
// channel. User channels do not count; chat from sockets outside every
// lobby room is dropped.
func (b *Bus) InLobbyRoom(socketID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.rooms {
		if _, ok := subs[socketID]; ok {
			return true
		}
	}
	return false
}

// UserChannelActive reports whether any socket subscribes to the user's
// channel.
func (b *Bus) UserChannelActive(userID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users[userID]) > 0
}

// nextVersion returns a strictly increasing epoch-millis stamp. Caller
// holds the lock.
func (b *Bus) nextVersion() int64 {
	v := b.now().UnixMilli()
	if v <= b.lastVersion {
		v = b.lastVersion + 1
	}
	b.lastVersion = v
	return v
}

// PublishRoom emits an event to every subscriber of the room channel,
// stamped with the next roomVersion.
func (b *Bus) PublishRoom(roomCode, event string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[roomCode]
	if !ok {
		return
	}
	env := Envelope{Event: event, RoomVersion: b.nextVersion(), Data: data}
	for _, sub := range subs {
		sub.Write(b.logger, env)
	}
	metrics.BroadcastsTotal.WithLabelValues("room").Inc()
}

// PublishRoomExcept emits to the room channel, skipping one socket.
func (b *Bus) PublishRoomExcept(roomCode, exceptSocketID, event string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[roomCode]
	if !ok {
		return
	}
	env := Envelope{Event: event, RoomVersion: b.nextVersion(), Data: data}
	for id, sub := range subs {
		if id == exceptSocketID {
			continue
		}
		sub.Write(b.logger, env)
	}
	metrics.BroadcastsTotal.WithLabelValues("room").Inc()
}

// PublishUser emits an event to every socket on the user channel.
func (b *Bus) PublishUser(userID uuid.UUID, event string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.users[userID]
	if !ok {
		return
	}
	env := Envelope{Event: event, Data: data}
	for _, sub := range subs {
		sub.Write(b.logger, env)
	}
	metrics.BroadcastsTotal.WithLabelValues("user").Inc()
}

// PublishSocket emits an event directly to one socket.
func (b *Bus) PublishSocket(socketID, event string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.sockets[socketID]
	if !ok {
		return
	}
	sub.Write(b.logger, Envelope{Event: event, Data: data})
	metrics.BroadcastsTotal.WithLabelValues("socket").Inc()
}

// RoomSocketIDs returns the sockets currently subscribed to the room.
func (b *Bus) RoomSocketIDs(roomCode string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.rooms[roomCode]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// SetNowFunc swaps the version clock. Tests only.
func (b *Bus) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
