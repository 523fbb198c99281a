package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/ident"
	"github.com/openlobby/lobbyd/internal/registry"
	"github.com/openlobby/lobbyd/internal/room"
	"github.com/openlobby/lobbyd/internal/wserr"
)

// joinTimeout bounds the create/join handshake. Variable so tests can
// shrink the window.
var joinTimeout = 10 * time.Second

// inboundFrame is the wire shape of every client message.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type createRoomPayload struct {
	PlayerName      string `json:"playerName"`
	GameType        string `json:"gameType"`
	MaxPlayers      int    `json:"maxPlayers"`
	IsPublic        bool   `json:"isPublic"`
	StreamerMode    bool   `json:"streamerMode"`
	CustomLobbyName string `json:"customLobbyName"`
	SupabaseUserID  string `json:"supabaseUserId"`
}

type joinRoomPayload struct {
	PlayerName      string `json:"playerName"`
	RoomCode        string `json:"roomCode"`
	CustomLobbyName string `json:"customLobbyName"`
	IsHostHint      bool   `json:"isHostHint"`
	SupabaseUserID  string `json:"supabaseUserId"`
}

type roomCodePayload struct {
	RoomCode string `json:"roomCode"`
}

type selectGamePayload struct {
	RoomCode string                 `json:"roomCode"`
	GameType string                 `json:"gameType"`
	Settings map[string]interface{} `json:"settings"`
}

type targetUserPayload struct {
	RoomCode     string `json:"roomCode"`
	TargetUserID string `json:"targetUserId"`
	Reason       string `json:"reason"`
}

type statusPayload struct {
	RoomCode  string `json:"roomCode"`
	NewStatus string `json:"newStatus"`
	Reason    string `json:"reason"`
}

type profilePayload struct {
	RoomCode    string `json:"roomCode"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type publicRoomsPayload struct {
	GameType string `json:"gameType"`
}

type minigamePayloadIn struct {
	Score  int `json:"score"`
	TimeMs int `json:"timeMs"`
}

type identifyPayload struct {
	UserID string `json:"userId"`
}

type invitePayload struct {
	TargetUserID string `json:"targetUserId"`
	RoomCode     string `json:"roomCode"`
	GameName     string `json:"gameName"`
}

// authedID resolves the caller's user id: the registry identity first,
// then an explicit supabase-style id from the payload.
func (s *Server) authedID(socketID, payloadID string) uuid.UUID {
	if conn, ok := s.Reg.Get(socketID); ok && conn.UserID != uuid.Nil {
		return conn.UserID
	}
	if id, err := uuid.Parse(payloadID); err == nil {
		return id
	}
	return uuid.Nil
}

// emitErr translates a service error into the socket error event.
// kickPlayer failures use the dedicated kickFailed shape.
func (s *Server) emitErr(socketID, event string, err error) {
	code, message := wserr.CodeOf(err)
	if code == wserr.CodeServerError && !wserr.Is(err, wserr.CodeServerError) {
		s.Logger.Errorf("handler %s: %v", event, err)
	}
	if event == "kickPlayer" {
		s.Bus.PublishSocket(socketID, events.KickFailed, events.KickFailedPayload{
			Error: code, Message: message,
		})
		return
	}
	s.Bus.PublishSocket(socketID, events.ErrorEvent, events.ErrorPayload{
		Code: code, Message: message,
	})
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// dispatch routes one inbound frame. Every mutating action passes the
// per-socket rate limiter first.
func (s *Server) dispatch(ctx context.Context, socketID string, frame inboundFrame) {
	s.Reg.Touch(socketID)

	limit := registry.LimitFor(frame.Event)
	if s.Reg.IsRateLimited(socketID, frame.Event, limit) {
		s.Bus.PublishSocket(socketID, events.ErrorEvent, events.ErrorPayload{
			Code: wserr.CodeRateLimited, Message: "slow down",
		})
		return
	}
	s.Reg.TrackAttempt(socketID, frame.Event)

	switch frame.Event {
	case "createRoom":
		var p createRoomPayload
		if err := decode(frame.Data, &p); err != nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeInvalidInput, "bad createRoom payload"))
			return
		}
		joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
		defer cancel()
		_, err := s.Rooms.Create(joinCtx, socketID, room.CreateParams{
			PlayerName:      p.PlayerName,
			GameType:        p.GameType,
			MaxPlayers:      p.MaxPlayers,
			IsPublic:        p.IsPublic,
			StreamerMode:    p.StreamerMode,
			CustomLobbyName: p.CustomLobbyName,
			UserID:          s.authedID(socketID, p.SupabaseUserID),
		})
		if err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "joinRoom":
		var p joinRoomPayload
		if err := decode(frame.Data, &p); err != nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeInvalidInput, "bad joinRoom payload"))
			return
		}
		joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
		defer cancel()
		_, err := s.Rooms.Join(joinCtx, socketID, room.JoinParams{
			PlayerName:      p.PlayerName,
			RoomCode:        p.RoomCode,
			CustomLobbyName: p.CustomLobbyName,
			IsHostHint:      p.IsHostHint,
			UserID:          s.authedID(socketID, p.SupabaseUserID),
		})
		// Store faults inside the join are wrapped into client codes, so
		// a timed-out handshake is detected on the context, not the error.
		if err != nil && errors.Is(joinCtx.Err(), context.DeadlineExceeded) {
			s.Bus.PublishSocket(socketID, events.ErrorEvent, events.ErrorPayload{
				Code: "JOIN_TIMEOUT", Message: "join handshake timed out",
			})
			return
		}
		if err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "leaveRoom":
		var p roomCodePayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		if err := s.Rooms.Leave(ctx, socketID, p.RoomCode); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "getPublicRooms":
		var p publicRoomsPayload
		_ = decode(frame.Data, &p)
		rooms, err := s.Rooms.PublicRooms(ctx, ident.SanitizeName(p.GameType))
		if err != nil {
			s.emitErr(socketID, frame.Event, err)
			return
		}
		s.Bus.PublishSocket(socketID, events.PublicRooms, events.PublicRoomsPayload{Rooms: rooms})

	case "joinSocketRoom":
		var p roomCodePayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		code := ident.SanitizeRoomCode(p.RoomCode)
		if ident.ValidRoomCode(code) {
			s.Bus.JoinRoom(socketID, code)
		}

	case "selectGame":
		var p selectGamePayload
		if err := decode(frame.Data, &p); err != nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeInvalidInput, "bad selectGame payload"))
			return
		}
		if err := s.Rooms.SelectGame(ctx, socketID, p.RoomCode, p.GameType, p.Settings); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "startGame":
		var p roomCodePayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		conn, ok := s.Reg.Get(socketID)
		if !ok || conn.UserID == uuid.Nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeNotInRoom, "socket is not identified"))
			return
		}
		if err := s.Launch.StartGame(ctx, ident.SanitizeRoomCode(p.RoomCode), conn.UserID); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "playerReturnToLobby":
		var p roomCodePayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		if err := s.Rooms.ReturnToLobby(ctx, socketID, p.RoomCode); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "transferHost":
		var p targetUserPayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		target, err := uuid.Parse(p.TargetUserID)
		if err != nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeInvalidInput, "targetUserId must be a UUID"))
			return
		}
		if err := s.Rooms.TransferHost(ctx, socketID, p.RoomCode, target); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "kickPlayer":
		var p targetUserPayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		target, err := uuid.Parse(p.TargetUserID)
		if err != nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeInvalidInput, "targetUserId must be a UUID"))
			return
		}
		if err := s.Rooms.Kick(ctx, socketID, p.RoomCode, target, ident.SanitizeMessage(p.Reason)); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "changeRoomStatus":
		var p statusPayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		if err := s.Rooms.ChangeStatus(ctx, socketID, p.RoomCode, p.NewStatus, false, p.Reason); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "autoUpdateRoomStatus":
		var p statusPayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		if err := s.Rooms.ChangeStatus(ctx, socketID, p.RoomCode, p.NewStatus, true, p.Reason); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "profile_updated":
		s.handleProfileUpdated(ctx, socketID, frame.Data)

	case "heartbeat":
		s.Presence.Heartbeat(ctx, socketID)

	case "chat:message":
		s.handleChat(socketID, frame.Data)

	case "minigame:click", "tugOfWar:pull":
		s.handleMinigame(socketID, frame.Event, frame.Data)

	case "user:identify":
		var p identifyPayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		userID, err := uuid.Parse(p.UserID)
		if err != nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeInvalidInput, "userId must be a UUID"))
			return
		}
		if u, err := s.Store.GetUserByID(ctx, userID); err == nil {
			s.Reg.Identify(socketID, u.ID, u.Name())
		}
		if err := s.Social.Identify(ctx, socketID, userID); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	case "game:invite":
		var p invitePayload
		if err := decode(frame.Data, &p); err != nil {
			return
		}
		target, err := uuid.Parse(p.TargetUserID)
		if err != nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeInvalidInput, "targetUserId must be a UUID"))
			return
		}
		conn, ok := s.Reg.Get(socketID)
		if !ok || conn.UserID == uuid.Nil {
			s.emitErr(socketID, frame.Event, wserr.New(wserr.CodeNotInRoom, "identify before inviting"))
			return
		}
		if err := s.Social.Invite(ctx, conn.UserID, conn.Username, target, p.RoomCode, p.GameName); err != nil {
			s.emitErr(socketID, frame.Event, err)
		}

	default:
		// Unknown events are ignored, not errored, so old clients keep
		// working across protocol additions.
		s.Logger.Debugf("socket %s: ignoring unknown event %q", socketID, frame.Event)
	}
}

// handleChat relays a sanitized chat line to the sender's lobby room.
// Messages from sockets outside every lobby room are dropped silently.
func (s *Server) handleChat(socketID string, raw json.RawMessage) {
	var p chatPayload
	if err := decode(raw, &p); err != nil {
		return
	}
	msg := ident.SanitizeMessage(p.Message)
	if msg == "" {
		s.Bus.PublishSocket(socketID, events.ErrorEvent, events.ErrorPayload{
			Code: wserr.CodeInvalidInput, Message: "empty message",
		})
		return
	}
	conn, ok := s.Reg.Get(socketID)
	if !ok || conn.RoomCode == "" || !s.Bus.InLobbyRoom(socketID) {
		return
	}
	s.Bus.PublishRoom(conn.RoomCode, events.ChatMessage, events.ChatMessagePayload{
		ID:         uuid.New(),
		PlayerName: conn.Username,
		Message:    msg,
		Ts:         time.Now().UnixMilli(),
	})
}

// handleMinigame relays a bounded minigame result to the sender's room.
func (s *Server) handleMinigame(socketID, event string, raw json.RawMessage) {
	var p minigamePayloadIn
	if err := decode(raw, &p); err != nil {
		return
	}
	if p.Score < 0 || p.Score > 10000 || p.TimeMs < 0 || p.TimeMs > 60000 {
		s.Bus.PublishSocket(socketID, events.ErrorEvent, events.ErrorPayload{
			Code: wserr.CodeInvalidInput, Message: "minigame result out of bounds",
		})
		return
	}
	conn, ok := s.Reg.Get(socketID)
	if !ok || conn.RoomCode == "" {
		return
	}
	name := events.MinigameClick
	if event == "tugOfWar:pull" {
		name = events.TugOfWarPull
	}
	s.Bus.PublishRoom(conn.RoomCode, name, events.MinigamePayload{
		UserID: conn.UserID,
		Name:   conn.Username,
		Score:  p.Score,
		TimeMs: p.TimeMs,
	})
}

// handleProfileUpdated persists bounded profile fields and rebroadcasts
// the player list so lobbies render the new name immediately.
func (s *Server) handleProfileUpdated(ctx context.Context, socketID string, raw json.RawMessage) {
	var p profilePayload
	if err := decode(raw, &p); err != nil {
		return
	}
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		s.emitErr(socketID, "profile_updated", wserr.New(wserr.CodeInvalidInput, "userId must be a UUID"))
		return
	}
	displayName := ident.SanitizeName(p.DisplayName)
	avatar := p.AvatarURL
	if len(avatar) > 512 {
		avatar = avatar[:512]
	}
	if err := s.Store.UpdateProfile(ctx, userID, displayName, avatar); err != nil {
		s.Logger.Warnf("profile_updated for %s: %v", userID, err)
		return
	}
	if displayName != "" {
		s.Reg.Identify(socketID, userID, displayName)
	}
	code := ident.SanitizeRoomCode(p.RoomCode)
	if !ident.ValidRoomCode(code) {
		return
	}
	s.Rooms.BroadcastRoster(ctx, code)
}
