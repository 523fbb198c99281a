// Package room implements the authoritative room state machine: create,
// join, leave, disconnect, host ownership, and the smart status
// reconciliation that follows every membership change.
package room

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/database"
	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/grace"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/registry"
)

const (
	// DefaultMaxPlayers applies when createRoom omits maxPlayers.
	DefaultMaxPlayers = 8
	// MinPlayersBound and MaxPlayersBound clamp client-supplied capacity.
	MinPlayersBound = 2
	MaxPlayersBound = 30
)

// Store is the slice of the datastore the state machine drives.
type Store interface {
	RoomCodeExists(ctx context.Context, code string) (bool, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	AddParticipant(ctx context.Context, roomID, userID uuid.UUID, socketID, role, customName string) (*models.RoomMember, error)
	PromoteToHost(ctx context.Context, roomID, userID uuid.UUID) error
	RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) (wasHost bool, err error)
	UpdateParticipantConnection(ctx context.Context, userID uuid.UUID, socketID, status, customName string) error
	TransferHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) error
	AutoTransferHost(ctx context.Context, roomID, leavingHostID uuid.UUID) (*models.RoomMember, error)
	UpdateRoomStatus(ctx context.Context, roomID uuid.UUID, status string) error
	SetCurrentGame(ctx context.Context, roomID uuid.UUID, gameType string) error
	TouchRoomActivity(ctx context.Context, roomID uuid.UUID) error
	MarkMembersReturned(ctx context.Context, roomID uuid.UUID) error
	MarkMemberReturned(ctx context.Context, roomID, userID uuid.UUID) error
	GetGameBySlug(ctx context.Context, slug string) (*models.Game, error)
	GetActiveRooms(ctx context.Context, gameType string) ([]*models.Room, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateGuest(ctx context.Context, displayName string) (*models.User, error)
}

// Bus is the slice of the event bus the state machine publishes on.
type Bus interface {
	JoinRoom(socketID, roomCode string) bool
	LeaveRoom(socketID, roomCode string)
	PublishRoom(roomCode, event string, data interface{})
	PublishRoomExcept(roomCode, exceptSocketID, event string, data interface{})
	PublishSocket(socketID, event string, data interface{})
}

// EventSink receives audit records; wired to the redis event queue in
// production. Failures are logged and swallowed.
type EventSink func(ctx context.Context, rec database.RoomEventRecord) error

// Service is the room state machine.
type Service struct {
	store  Store
	bus    Bus
	reg    *registry.Registry
	grace  *grace.Manager
	logger *logrus.Logger
	sink   EventSink
}

func NewService(store Store, bus Bus, reg *registry.Registry, gm *grace.Manager, logger *logrus.Logger) *Service {
	return &Service{store: store, bus: bus, reg: reg, grace: gm, logger: logger}
}

// SetEventSink wires the audit queue. Optional.
func (s *Service) SetEventSink(sink EventSink) { s.sink = sink }

// logEvent appends to the audit stream, fire and forget.
func (s *Service) logEvent(roomID uuid.UUID, userID *uuid.UUID, eventType string, data map[string]interface{}) {
	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := database.RoomEventRecord{
		RoomID:    roomID,
		UserID:    userID,
		EventType: eventType,
		EventData: data,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.sink(ctx, rec); err != nil {
		s.logger.Warnf("event log append %s: %v", eventType, err)
	}
}

// touchActivity bumps rooms.last_activity, fire and forget.
func (s *Service) touchActivity(ctx context.Context, roomID uuid.UUID) {
	if err := s.store.TouchRoomActivity(ctx, roomID); err != nil {
		s.logger.Warnf("touch room activity %s: %v", roomID, err)
	}
}

// resolveUser maps an optional authenticated id plus a display name onto
// a user row, minting a guest when the caller is anonymous.
func (s *Service) resolveUser(ctx context.Context, userID uuid.UUID, displayName string) (*models.User, error) {
	if userID != uuid.Nil {
		u, err := s.store.GetUserByID(ctx, userID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, database.ErrUserNotFound) {
			return nil, err
		}
		// Stale id from a wiped user table; fall through to a guest.
	}
	return s.store.CreateGuest(ctx, displayName)
}

// welcome builds the payload for roomCreated / roomJoined.
func welcome(room *models.Room, userID uuid.UUID) events.RoomWelcomePayload {
	return events.RoomWelcomePayload{
		Room:    events.SnapshotFromRoom(room),
		Players: events.PlayersFromMembers(room.Members),
		IsHost:  room.HostID == userID,
		YourID:  userID,
	}
}
