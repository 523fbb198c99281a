// Package social announces presence over the friend graph and forwards
// game invites between user channels.
package social

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/ident"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/wserr"
)

// Store is the slice of the datastore social needs.
type Store interface {
	ListAcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
}

// Bus is the slice of the event bus social needs.
type Bus interface {
	JoinUser(socketID string, userID uuid.UUID) bool
	UserChannelActive(userID uuid.UUID) bool
	PublishUser(userID uuid.UUID, event string, data interface{})
	PublishSocket(socketID, event string, data interface{})
}

// Service implements friend presence and invites.
type Service struct {
	store  Store
	bus    Bus
	logger *logrus.Logger
}

func NewService(store Store, bus Bus, logger *logrus.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

// Identify subscribes the socket to its user channel, tells every online
// accepted friend the user came online, and answers the socket with the
// aggregated online-friend set.
func (s *Service) Identify(ctx context.Context, socketID string, userID uuid.UUID) error {
	if !s.bus.JoinUser(socketID, userID) {
		return wserr.New(wserr.CodeServerError, "socket not registered")
	}

	friendIDs, err := s.store.ListAcceptedFriendIDs(ctx, userID)
	if err != nil {
		// Presence still works without the friend graph; log and answer
		// with an empty set.
		s.logger.Warnf("identify: load friends for %s: %v", userID, err)
		s.bus.PublishSocket(socketID, events.FriendListOnline,
			events.FriendListOnlinePayload{UserIDs: []uuid.UUID{}})
		return nil
	}

	online := make([]uuid.UUID, 0, len(friendIDs))
	for _, fid := range friendIDs {
		if !s.bus.UserChannelActive(fid) {
			continue
		}
		online = append(online, fid)
		s.bus.PublishUser(fid, events.FriendOnline,
			events.FriendPresencePayload{UserID: userID})
	}
	s.bus.PublishSocket(socketID, events.FriendListOnline,
		events.FriendListOnlinePayload{UserIDs: online})
	return nil
}

// Disconnected emits friend:offline to every accepted friend once the
// user's last socket is gone. The caller decides "last socket"; calling
// this while other tabs remain online would lie to friends.
func (s *Service) Disconnected(ctx context.Context, userID uuid.UUID) {
	friendIDs, err := s.store.ListAcceptedFriendIDs(ctx, userID)
	if err != nil {
		s.logger.Warnf("offline broadcast: load friends for %s: %v", userID, err)
		return
	}
	for _, fid := range friendIDs {
		if s.bus.UserChannelActive(fid) {
			s.bus.PublishUser(fid, events.FriendOffline,
				events.FriendPresencePayload{UserID: userID})
		}
	}
}

// Invite forwards a game invite to the target's user channel with
// sanitized display fields.
func (s *Service) Invite(ctx context.Context, senderID uuid.UUID, senderName string, targetUserID uuid.UUID, roomCode, gameName string) error {
	code := ident.SanitizeRoomCode(roomCode)
	if !ident.ValidRoomCode(code) {
		return wserr.New(wserr.CodeInvalidInput, "invalid room code")
	}
	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return wserr.New(wserr.CodeRoomNotFound, "room not found")
	}

	s.bus.PublishUser(targetUserID, events.GameInviteReceived, events.GameInvitePayload{
		RoomID:   room.ID,
		RoomCode: room.RoomCode,
		GameName: ident.SanitizeName(gameName),
		HostName: ident.SanitizeName(senderName),
		SenderID: senderID,
	})
	return nil
}
