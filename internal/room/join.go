package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/ident"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/wserr"
)

// CreateParams carries a createRoom request after handler decoding.
type CreateParams struct {
	PlayerName      string
	GameType        string
	MaxPlayers      int
	IsPublic        bool
	StreamerMode    bool
	CustomLobbyName string
	// UserID is the authenticated user, or Nil for anonymous callers.
	UserID uuid.UUID
}

// JoinParams carries a joinRoom request after handler decoding.
type JoinParams struct {
	PlayerName      string
	RoomCode        string
	CustomLobbyName string
	IsHostHint      bool
	UserID          uuid.UUID
}

// Create makes a room with the caller as host, subscribes the socket,
// and answers it with roomCreated.
func (s *Service) Create(ctx context.Context, socketID string, p CreateParams) (*models.Room, error) {
	name := ident.SanitizeName(p.PlayerName)
	if name == "" {
		return nil, wserr.New(wserr.CodeInvalidInput, "player name required")
	}
	maxPlayers := p.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}
	if maxPlayers < MinPlayersBound || maxPlayers > MaxPlayersBound {
		return nil, wserr.New(wserr.CodeInvalidInput,
			fmt.Sprintf("maxPlayers must be between %d and %d", MinPlayersBound, MaxPlayersBound))
	}

	user, err := s.resolveUser(ctx, p.UserID, name)
	if err != nil {
		s.logger.Errorf("createRoom: resolve user: %v", err)
		return nil, wserr.New(wserr.CodeRoomCreationFailed, "could not resolve user")
	}

	code, err := ident.GenerateRoomCode(ctx, s.store.RoomCodeExists)
	if err != nil {
		// ROOM_CODE_COLLISION stays internal; clients see a retryable code.
		s.logger.Errorf("createRoom: generate code: %v", err)
		return nil, wserr.New(wserr.CodeRoomCreationFailed, "could not allocate a room code")
	}

	room := &models.Room{
		RoomCode:     code,
		HostID:       user.ID,
		Status:       models.RoomStatusLobby,
		CurrentGame:  p.GameType,
		MaxPlayers:   maxPlayers,
		IsPublic:     p.IsPublic,
		StreamerMode: p.StreamerMode,
		Metadata: models.RoomMetadata{
			CreatedByName:  name,
			OriginalHostID: user.ID,
		},
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		s.logger.Errorf("createRoom: insert: %v", err)
		return nil, wserr.New(wserr.CodeRoomCreationFailed, "could not create room")
	}

	s.reg.Identify(socketID, user.ID, name)
	s.reg.BindRoom(socketID, room.ID, room.RoomCode)
	s.bus.JoinRoom(socketID, room.RoomCode)

	full, err := s.store.GetRoomByCode(ctx, room.RoomCode)
	if err != nil {
		full = room
	}
	s.bus.PublishSocket(socketID, events.RoomCreated, welcome(full, user.ID))

	uid := user.ID
	s.logEvent(room.ID, &uid, events.RoomCreated, map[string]interface{}{
		"room_code": room.RoomCode,
		"game_type": p.GameType,
	})
	s.logger.WithFields(logrus.Fields{
		"room": room.RoomCode,
		"host": name,
	}).Info("room created")
	return full, nil
}

// rejoinAllowed gates joins to non-alive rooms: the creator by name, or
// any historical participant by id or any known name.
func rejoinAllowed(room *models.Room, userID uuid.UUID, name string) bool {
	if strings.EqualFold(room.Metadata.CreatedByName, name) {
		return true
	}
	for _, m := range room.Members {
		if m.UserID == userID {
			return true
		}
		if strings.EqualFold(m.CustomLobbyName, name) {
			return true
		}
		if m.User != nil &&
			(strings.EqualFold(m.User.Username, name) || strings.EqualFold(m.User.DisplayName, name)) {
			return true
		}
	}
	return false
}

// matchMemberByName finds an existing member whose identity matches the
// joining display name, for socketless reconnects.
func matchMemberByName(room *models.Room, name string) *models.RoomMember {
	for _, m := range room.Members {
		if strings.EqualFold(m.LobbyName(), name) {
			return m
		}
		if m.User != nil &&
			(strings.EqualFold(m.User.Username, name) || strings.EqualFold(m.User.DisplayName, name)) {
			return m
		}
	}
	return nil
}

// Join adds (or reconnects) a member, handles host promotion and the
// original-host return, cancels grace timers, and broadcasts the delta.
func (s *Service) Join(ctx context.Context, socketID string, p JoinParams) (*models.Room, error) {
	name := ident.SanitizeName(p.PlayerName)
	if name == "" {
		return nil, wserr.New(wserr.CodeInvalidInput, "player name required")
	}
	code := ident.SanitizeRoomCode(p.RoomCode)
	if !ident.ValidRoomCode(code) {
		return nil, wserr.New(wserr.CodeInvalidInput, "invalid room code")
	}

	if !s.reg.AcquireLock(name, code, socketID) {
		return nil, wserr.New(wserr.CodeConnectionInProgress, "a join for this name is already in progress")
	}
	defer s.reg.ReleaseLock(name, code, socketID)

	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, wserr.New(wserr.CodeRoomNotFound, "room not found")
	}

	// Resolve identity: authenticated id, then a member row matched by
	// name (reconnect), then a fresh guest.
	userID := p.UserID
	if userID == uuid.Nil {
		if m := matchMemberByName(room, name); m != nil {
			userID = m.UserID
		}
	}
	existing := room.MemberByUser(userID)

	if !room.Alive() {
		if !rejoinAllowed(room, userID, name) {
			return nil, wserr.New(wserr.CodeRoomNotAccepting, "room is not accepting players")
		}
		if err := s.store.UpdateRoomStatus(ctx, room.ID, models.RoomStatusLobby); err != nil {
			s.logger.Errorf("joinRoom: reopen %s: %v", code, err)
			return nil, wserr.New(wserr.CodeJoinFailed, "could not reopen room")
		}
		room.Status = models.RoomStatusLobby
		s.logger.WithField("room", code).Info("abandoned room reopened")
	}

	// A different live player already using the name blocks the join.
	for _, m := range room.Members {
		if m.IsConnected && m.UserID != userID && strings.EqualFold(m.LobbyName(), name) {
			return nil, wserr.New(wserr.CodeDuplicatePlayer, "a player with that name is already in the room")
		}
	}

	if existing == nil && room.ConnectedCount() >= room.MaxPlayers {
		return nil, wserr.New(wserr.CodeRoomFull, "room is full")
	}

	user, err := s.resolveUser(ctx, userID, name)
	if err != nil {
		s.logger.Errorf("joinRoom: resolve user: %v", err)
		return nil, wserr.New(wserr.CodeJoinFailed, "could not resolve user")
	}

	member, err := s.store.AddParticipant(ctx, room.ID, user.ID, socketID, models.RolePlayer, ident.SanitizeName(p.CustomLobbyName))
	if err != nil {
		s.logger.Errorf("joinRoom: add participant: %v", err)
		return nil, wserr.New(wserr.CodeJoinFailed, "could not join room")
	}

	// Host seat handling. The hint only wins an empty seat; the original
	// creator reclaims it outright.
	hostBack := false
	if room.Metadata.OriginalHostID == user.ID && room.HostID != user.ID {
		oldHostID := room.HostID
		if err := s.store.TransferHost(ctx, room.ID, oldHostID, user.ID); err != nil {
			s.logger.Warnf("joinRoom: original host return in %s: %v", code, err)
		} else {
			hostBack = true
			s.bus.PublishRoom(code, events.HostTransferred, events.HostTransferredPayload{
				OldHostID: oldHostID,
				NewHostID: user.ID,
				Reason:    events.ReasonOriginalHostBack,
			})
		}
	} else if p.IsHostHint && room.HostMember() == nil {
		if err := s.store.PromoteToHost(ctx, room.ID, user.ID); err != nil {
			s.logger.Warnf("joinRoom: host-hint promotion in %s: %v", code, err)
		}
	}

	s.grace.CancelHostTransfer(room.ID, user.ID)
	s.grace.CancelAbandonment(room.ID)

	s.reg.Identify(socketID, user.ID, name)
	s.reg.BindRoom(socketID, room.ID, room.RoomCode)
	s.bus.JoinRoom(socketID, room.RoomCode)

	full, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		s.logger.Errorf("joinRoom: reload %s: %v", code, err)
		return nil, wserr.New(wserr.CodeJoinFailed, "could not load room")
	}

	s.bus.PublishSocket(socketID, events.RoomJoined, welcome(full, user.ID))
	joined := full.MemberByUser(user.ID)
	if joined == nil {
		joined = member
	}
	s.bus.PublishRoomExcept(code, socketID, events.PlayerJoined, events.PlayerDeltaPayload{
		Player:  events.PlayerFromMember(joined),
		Players: events.PlayersFromMembers(full.Members),
	})

	s.touchActivity(ctx, room.ID)
	uid := user.ID
	s.logEvent(room.ID, &uid, events.PlayerJoined, map[string]interface{}{
		"name":      name,
		"reconnect": existing != nil,
		"host_back": hostBack,
	})

	s.reconcile(ctx, full)
	return full, nil
}
