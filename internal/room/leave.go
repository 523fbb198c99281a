package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/ident"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/registry"
	"github.com/openlobby/lobbyd/internal/wserr"
)

// Leave removes the caller from the room outright. Distinct from a
// socket drop: the member row is deleted, not marked disconnected.
func (s *Service) Leave(ctx context.Context, socketID, roomCode string) error {
	code := ident.SanitizeRoomCode(roomCode)
	conn, ok := s.reg.Get(socketID)
	if !ok || conn.UserID == uuid.Nil {
		return wserr.New(wserr.CodeNotInRoom, "socket is not identified")
	}

	room, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		return wserr.New(wserr.CodeRoomNotFound, "room not found")
	}
	member := room.MemberByUser(conn.UserID)
	if member == nil {
		return wserr.New(wserr.CodeNotInRoom, "you are not in this room")
	}
	leftName := member.LobbyName()

	wasHost, err := s.store.RemoveParticipant(ctx, room.ID, conn.UserID)
	if err != nil {
		s.logger.Errorf("leaveRoom: remove participant: %v", err)
		return wserr.New(wserr.CodeServerError, "could not leave room")
	}

	s.bus.LeaveRoom(socketID, code)
	s.reg.UnbindRoom(socketID)

	full, err := s.store.GetRoomByCode(ctx, code)
	if err != nil {
		s.logger.Warnf("leaveRoom: reload %s: %v", code, err)
		return nil
	}

	if wasHost {
		s.handOffHost(ctx, full, conn.UserID, events.ReasonHostLeft)
	}

	s.bus.PublishRoom(code, events.PlayerLeft, events.PlayerDeltaPayload{
		Player:  events.PlayerFromMember(member),
		Players: events.PlayersFromMembers(full.Members),
	})

	if full.ConnectedCount() == 0 {
		s.armAbandonment(full.ID, code)
	}

	s.touchActivity(ctx, full.ID)
	uid := conn.UserID
	s.logEvent(full.ID, &uid, events.PlayerLeft, map[string]interface{}{"name": leftName})
	s.reconcile(ctx, full)
	return nil
}

// Disconnect reconciles a socket drop: the member stays on the roster
// but flips to disconnected, and the grace timers arm as needed. The
// caller has already removed the connection from the registry.
func (s *Service) Disconnect(ctx context.Context, conn *registry.Connection) {
	if conn == nil || conn.UserID == uuid.Nil || conn.RoomCode == "" {
		return
	}
	// Another tab keeps the member alive.
	if s.reg.UserOnline(conn.UserID) {
		return
	}

	if err := s.store.UpdateParticipantConnection(ctx, conn.UserID, conn.SocketID, "disconnected", ""); err != nil {
		s.logger.Warnf("disconnect: mark %s disconnected: %v", conn.UserID, err)
	}

	room, err := s.store.GetRoomByCode(ctx, conn.RoomCode)
	if err != nil {
		return
	}
	member := room.MemberByUser(conn.UserID)
	if member == nil {
		return
	}

	s.bus.PublishRoom(conn.RoomCode, events.PlayerDisconnected, events.PlayerDeltaPayload{
		Player:  events.PlayerFromMember(member),
		Players: events.PlayersFromMembers(room.Members),
	})

	connected := room.ConnectedCount()
	if room.HostID == conn.UserID && connected > 0 {
		roomCode := conn.RoomCode
		s.grace.ArmHostTransfer(room.ID, conn.UserID, func(roomID, hostID uuid.UUID) {
			s.hostGraceExpired(roomID, roomCode, hostID)
		})
	}
	if connected == 0 {
		s.armAbandonment(room.ID, conn.RoomCode)
	}

	uid := conn.UserID
	s.logEvent(room.ID, &uid, events.PlayerDisconnected, map[string]interface{}{
		"name": member.LobbyName(),
	})
	s.reconcile(ctx, room)
}

// handOffHost moves the host seat to the next eligible member and
// broadcasts the transfer. No-op when nobody is eligible.
func (s *Service) handOffHost(ctx context.Context, room *models.Room, leavingHostID uuid.UUID, reason string) {
	next, err := s.store.AutoTransferHost(ctx, room.ID, leavingHostID)
	if err != nil {
		s.logger.Errorf("host hand-off in %s: %v", room.RoomCode, err)
		return
	}
	if next == nil {
		return
	}
	room.HostID = next.UserID
	s.bus.PublishRoom(room.RoomCode, events.HostTransferred, events.HostTransferredPayload{
		OldHostID: leavingHostID,
		NewHostID: next.UserID,
		Reason:    reason,
	})
	s.logger.WithFields(logrus.Fields{
		"room":     room.RoomCode,
		"new_host": next.UserID,
		"reason":   reason,
	}).Info("host transferred")
}

// hostGraceExpired runs when the 30s host timer fires without the host
// returning.
func (s *Service) hostGraceExpired(roomID uuid.UUID, roomCode string, hostID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := s.store.GetRoomByCode(ctx, roomCode)
	if err != nil || room.HostID != hostID {
		// Seat already moved or room is gone.
		return
	}
	s.handOffHost(ctx, room, hostID, events.ReasonHostGraceExpired)
}

// armAbandonment starts the abandonment countdown for an empty room.
func (s *Service) armAbandonment(roomID uuid.UUID, roomCode string) {
	s.grace.ArmAbandonment(roomID, func(id uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		room, err := s.store.GetRoomByCode(ctx, roomCode)
		if err != nil {
			return
		}
		// Someone slipped back in without cancelling; leave the room be.
		if room.ConnectedCount() > 0 {
			return
		}
		if err := s.store.UpdateRoomStatus(ctx, id, models.RoomStatusAbandoned); err != nil {
			s.logger.Errorf("abandonment of %s: %v", roomCode, err)
			return
		}
		s.logEvent(id, nil, "roomAbandoned", map[string]interface{}{"room_code": roomCode})
		s.logger.WithField("room", roomCode).Info("room abandoned")
	})
}
