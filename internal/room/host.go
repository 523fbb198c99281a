package room

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/ident"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/wserr"
)

// requireHost loads the room and checks the calling socket holds the
// host seat.
func (s *Service) requireHost(ctx context.Context, socketID, roomCode string) (*models.Room, uuid.UUID, error) {
	conn, ok := s.reg.Get(socketID)
	if !ok || conn.UserID == uuid.Nil {
		return nil, uuid.Nil, wserr.New(wserr.CodeNotInRoom, "socket is not identified")
	}
	room, err := s.store.GetRoomByCode(ctx, ident.SanitizeRoomCode(roomCode))
	if err != nil {
		return nil, uuid.Nil, wserr.New(wserr.CodeRoomNotFound, "room not found")
	}
	if room.HostID != conn.UserID {
		return nil, uuid.Nil, wserr.New(wserr.CodeNotHost, "only the host can do that")
	}
	return room, conn.UserID, nil
}

// Kick removes a player at the host's request. The target hears a
// personal playerKicked before removal; the rest of the room gets the
// notification form with the updated roster.
func (s *Service) Kick(ctx context.Context, socketID, roomCode string, targetUserID uuid.UUID, reason string) error {
	room, callerID, err := s.requireHost(ctx, socketID, roomCode)
	if err != nil {
		return err
	}
	if targetUserID == room.HostID {
		return wserr.New(wserr.CodeCannotKickHost, "the host cannot be kicked")
	}
	target := room.MemberByUser(targetUserID)
	if target == nil {
		return wserr.New(wserr.CodePlayerNotFound, "player is not in this room")
	}

	caller := room.MemberByUser(callerID)
	kickedBy := ""
	if caller != nil {
		kickedBy = caller.LobbyName()
	}

	personal := events.PlayerKickedPayload{
		TargetUserID: targetUserID,
		KickedBy:     kickedBy,
		Reason:       reason,
	}
	for _, sid := range s.reg.SocketsForUser(targetUserID) {
		s.bus.PublishSocket(sid, events.PlayerKicked, personal)
		s.bus.LeaveRoom(sid, room.RoomCode)
		s.reg.UnbindRoom(sid)
	}

	if _, err := s.store.RemoveParticipant(ctx, room.ID, targetUserID); err != nil {
		s.logger.Errorf("kickPlayer: remove %s: %v", targetUserID, err)
		return wserr.New(wserr.CodeServerError, "could not kick player")
	}

	full, err := s.store.GetRoomByCode(ctx, room.RoomCode)
	if err != nil {
		s.logger.Warnf("kickPlayer: reload %s: %v", room.RoomCode, err)
		return nil
	}
	s.bus.PublishRoom(room.RoomCode, events.PlayerKicked, events.PlayerKickedPayload{
		TargetUserID: targetUserID,
		KickedBy:     kickedBy,
		Reason:       reason,
		Players:      events.PlayersFromMembers(full.Members),
	})

	s.touchActivity(ctx, room.ID)
	s.logEvent(room.ID, &callerID, events.PlayerKicked, map[string]interface{}{
		"target": targetUserID.String(),
	})
	return nil
}

// TransferHost hands the seat to another member at the host's request.
func (s *Service) TransferHost(ctx context.Context, socketID, roomCode string, targetUserID uuid.UUID) error {
	room, callerID, err := s.requireHost(ctx, socketID, roomCode)
	if err != nil {
		return err
	}
	if targetUserID == callerID {
		return wserr.New(wserr.CodeInvalidInput, "you already are the host")
	}
	if room.MemberByUser(targetUserID) == nil {
		return wserr.New(wserr.CodePlayerNotFound, "target is not a room member")
	}

	if err := s.store.TransferHost(ctx, room.ID, callerID, targetUserID); err != nil {
		s.logger.Errorf("transferHost in %s: %v", room.RoomCode, err)
		return wserr.New(wserr.CodeServerError, "could not transfer host")
	}

	s.bus.PublishRoom(room.RoomCode, events.HostTransferred, events.HostTransferredPayload{
		OldHostID: callerID,
		NewHostID: targetUserID,
		Reason:    events.ReasonManualTransfer,
	})
	s.touchActivity(ctx, room.ID)
	s.logEvent(room.ID, &callerID, events.HostTransferred, map[string]interface{}{
		"new_host": targetUserID.String(),
	})
	return nil
}

// SelectGame records the host's game choice and broadcasts it.
func (s *Service) SelectGame(ctx context.Context, socketID, roomCode, gameType string, settings map[string]interface{}) error {
	room, callerID, err := s.requireHost(ctx, socketID, roomCode)
	if err != nil {
		return err
	}
	if _, err := s.store.GetGameBySlug(ctx, gameType); err != nil {
		return wserr.New(wserr.CodeInvalidInput, "unknown game")
	}
	clean, err := ident.SanitizeSettings(settings)
	if err != nil {
		return wserr.New(wserr.CodeInvalidInput, "invalid game settings")
	}

	if err := s.store.SetCurrentGame(ctx, room.ID, gameType); err != nil {
		s.logger.Errorf("selectGame in %s: %v", room.RoomCode, err)
		return wserr.New(wserr.CodeServerError, "could not select game")
	}

	s.bus.PublishRoom(room.RoomCode, events.GameSelected, events.GameSelectedPayload{
		GameType: gameType,
		Settings: clean,
	})
	s.touchActivity(ctx, room.ID)
	s.logEvent(room.ID, &callerID, events.GameSelected, map[string]interface{}{
		"game_type": gameType,
	})
	return nil
}

// canonicalStatuses is the set clients may request. Legacy aliases like
// waiting_for_players are rejected, not translated.
var canonicalStatuses = map[string]bool{
	models.RoomStatusLobby:     true,
	models.RoomStatusInGame:    true,
	models.RoomStatusReturning: true,
}

// ChangeStatus applies a host-requested status change. isAutomatic marks
// client-side reconciliation (autoUpdateRoomStatus) as opposed to an
// explicit toggle.
func (s *Service) ChangeStatus(ctx context.Context, socketID, roomCode, newStatus string, isAutomatic bool, reason string) error {
	if !canonicalStatuses[newStatus] {
		return wserr.New(wserr.CodeInvalidInput, "unknown room status")
	}
	room, callerID, err := s.requireHost(ctx, socketID, roomCode)
	if err != nil {
		return err
	}
	if room.Status == newStatus {
		return nil
	}
	oldStatus := room.Status

	if err := s.store.UpdateRoomStatus(ctx, room.ID, newStatus); err != nil {
		s.logger.Errorf("changeRoomStatus in %s: %v", room.RoomCode, err)
		return wserr.New(wserr.CodeServerError, "could not change room status")
	}
	if newStatus == models.RoomStatusLobby {
		if err := s.store.MarkMembersReturned(ctx, room.ID); err != nil {
			s.logger.Warnf("changeRoomStatus: reset members in %s: %v", room.RoomCode, err)
		}
	}

	s.bus.PublishRoom(room.RoomCode, events.RoomStatusChanged, events.RoomStatusChangedPayload{
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		IsAutomatic: isAutomatic,
		Reason:      reason,
	})
	s.touchActivity(ctx, room.ID)
	s.logEvent(room.ID, &callerID, events.RoomStatusChanged, map[string]interface{}{
		"from": oldStatus, "to": newStatus, "automatic": isAutomatic,
	})
	return nil
}

// ReturnToLobby brings the calling member back from an external game.
func (s *Service) ReturnToLobby(ctx context.Context, socketID, roomCode string) error {
	conn, ok := s.reg.Get(socketID)
	if !ok || conn.UserID == uuid.Nil {
		return wserr.New(wserr.CodeNotInRoom, "socket is not identified")
	}
	code := ident.SanitizeRoomCode(roomCode)
	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return wserr.New(wserr.CodeRoomNotFound, "room not found")
	}
	if room.MemberByUser(conn.UserID) == nil {
		return wserr.New(wserr.CodeNotInRoom, "you are not in this room")
	}

	if err := s.store.MarkMemberReturned(ctx, room.ID, conn.UserID); err != nil {
		s.logger.Errorf("playerReturnToLobby in %s: %v", code, err)
		return wserr.New(wserr.CodeServerError, "could not update status")
	}

	full, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil
	}
	s.bus.PublishRoom(code, events.PlayerStatusUpdated, events.PlayerStatusPayload{
		Players: events.PlayersFromMembers(full.Members),
	})
	s.touchActivity(ctx, room.ID)
	s.reconcile(ctx, full)
	return nil
}

// reconcile applies the aggregate-location rules after a membership or
// status change:
//
//   - lobby with ≥2 members off in a game -> in_game
//   - in_game with at least half the members back in the lobby -> lobby
//   - in_game with nobody left in the game -> lobby
func (s *Service) reconcile(ctx context.Context, room *models.Room) {
	total := len(room.Members)
	if total == 0 {
		return
	}
	inGame, inLobby := 0, 0
	for _, m := range room.Members {
		switch m.CurrentLocation {
		case models.LocationGame:
			inGame++
		case models.LocationLobby:
			inLobby++
		}
	}

	var target, reason string
	switch {
	case room.Status == models.RoomStatusLobby && inGame >= 2:
		target, reason = models.RoomStatusInGame, "players_in_game"
	case room.Status == models.RoomStatusInGame && inLobby*2 >= total:
		target, reason = models.RoomStatusLobby, "majority_in_lobby"
	case room.Status == models.RoomStatusInGame && inGame == 0:
		target, reason = models.RoomStatusLobby, "game_empty"
	default:
		return
	}

	if err := s.store.UpdateRoomStatus(ctx, room.ID, target); err != nil {
		s.logger.Errorf("status reconciliation in %s: %v", room.RoomCode, err)
		return
	}
	if target == models.RoomStatusLobby {
		if err := s.store.MarkMembersReturned(ctx, room.ID); err != nil {
			s.logger.Warnf("status reconciliation: reset members in %s: %v", room.RoomCode, err)
		}
	}
	s.bus.PublishRoom(room.RoomCode, events.RoomStatusChanged, events.RoomStatusChangedPayload{
		OldStatus:   room.Status,
		NewStatus:   target,
		IsAutomatic: true,
		Reason:      reason,
	})
	room.Status = target
}

// BroadcastRoster republishes the player list for a room, typically after
// an out-of-band profile change.
func (s *Service) BroadcastRoster(ctx context.Context, roomCode string) {
	code := ident.SanitizeRoomCode(roomCode)
	full, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return
	}
	s.bus.PublishRoom(code, events.PlayerStatusUpdated, events.PlayerStatusPayload{
		Players: events.PlayersFromMembers(full.Members),
	})
}

// PublicRooms lists joinable public rooms for the lobby browser.
func (s *Service) PublicRooms(ctx context.Context, gameType string) ([]events.RoomSnapshot, error) {
	rooms, err := s.store.GetActiveRooms(ctx, gameType)
	if err != nil {
		s.logger.Errorf("getPublicRooms: %v", err)
		return nil, wserr.New(wserr.CodeServerError, "could not list rooms")
	}
	out := make([]events.RoomSnapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, events.SnapshotFromRoom(r))
	}
	return out, nil
}
