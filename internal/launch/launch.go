// Package launch mints game-session credentials and flips a room into
// in_game atomically. External game servers consume the session tokens
// through the launch-auth endpoint.
package launch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/metrics"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/wserr"
)

const (
	// TokenTTL bounds how long a minted session authenticates.
	TokenTTL = 24 * time.Hour
	// NonHostDelay staggers gameStarted so the host can stand the game
	// instance up before players arrive.
	NonHostDelay = 2 * time.Second

	tokenBytes = 32
)

// Store is the slice of the datastore the launch flow needs.
type Store interface {
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	GetGameBySlug(ctx context.Context, slug string) (*models.Game, error)
	UpdateRoomStatus(ctx context.Context, roomID uuid.UUID, status string) error
	MarkMembersInGame(ctx context.Context, roomID uuid.UUID) error
	MarkMembersReturned(ctx context.Context, roomID uuid.UUID) error
	InsertGameSessions(ctx context.Context, sessions []*models.GameSession) error
	DeleteSessionsForRoom(ctx context.Context, roomID uuid.UUID, since []string) error
}

// Bus is the slice of the event bus the launch flow needs.
type Bus interface {
	PublishRoom(roomCode, event string, data interface{})
	PublishSocket(socketID, event string, data interface{})
}

// SocketLookup resolves a user's live sockets for per-socket delivery.
type SocketLookup interface {
	SocketsForUser(userID uuid.UUID) []string
}

// Service runs the launch protocol.
type Service struct {
	store   Store
	bus     Bus
	sockets SocketLookup
	logger  *logrus.Logger

	// nonHostDelay is swappable so tests do not sleep two seconds.
	nonHostDelay time.Duration
}

func NewService(store Store, bus Bus, sockets SocketLookup, logger *logrus.Logger) *Service {
	return &Service{
		store:        store,
		bus:          bus,
		sockets:      sockets,
		logger:       logger,
		nonHostDelay: NonHostDelay,
	}
}

// mintToken returns a 64-char hex token from 32 random bytes.
func mintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// buildGameURL appends the session token (and gm role for the host) to
// the game's base path.
func buildGameURL(base, token string, isHost bool) string {
	u, err := url.Parse(base)
	if err != nil {
		// Fall back to naive concatenation on a malformed base path.
		sep := "?"
		if isHost {
			return base + sep + "session=" + token + "&role=gm"
		}
		return base + sep + "session=" + token
	}
	q := u.Query()
	q.Set("session", token)
	if isHost {
		q.Set("role", "gm")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// StartGame transitions the room to in_game and dispatches a launch URL
// to every connected member, host first.
//
// Preconditions: caller is the host, a game is selected, and at least
// two members are connected. On any fault past the status flip the room
// reverts to lobby and minted sessions are deleted best-effort; clients
// never see tokens from a failed launch.
func (s *Service) StartGame(ctx context.Context, roomCode string, callerID uuid.UUID) error {
	room, err := s.store.GetRoomByCode(ctx, roomCode)
	if err != nil {
		metrics.GameLaunches.WithLabelValues("not_found").Inc()
		return wserr.New(wserr.CodeRoomNotFound, "room not found")
	}
	if room.HostID != callerID {
		metrics.GameLaunches.WithLabelValues("rejected").Inc()
		return wserr.New(wserr.CodeNotHost, "only the host can start the game")
	}
	if room.CurrentGame == "" {
		metrics.GameLaunches.WithLabelValues("rejected").Inc()
		return wserr.New(wserr.CodeInvalidInput, "no game selected")
	}

	var connected []*models.RoomMember
	for _, m := range room.Members {
		if m.IsConnected {
			connected = append(connected, m)
		}
	}
	if len(connected) < 2 {
		metrics.GameLaunches.WithLabelValues("rejected").Inc()
		return wserr.New(wserr.CodeInvalidInput, "need at least 2 connected players")
	}

	game, err := s.store.GetGameBySlug(ctx, room.CurrentGame)
	if err != nil {
		metrics.GameLaunches.WithLabelValues("error").Inc()
		return fmt.Errorf("resolve game %q: %w", room.CurrentGame, err)
	}

	if err := s.store.UpdateRoomStatus(ctx, room.ID, models.RoomStatusInGame); err != nil {
		metrics.GameLaunches.WithLabelValues("error").Inc()
		return fmt.Errorf("set room in_game: %w", err)
	}
	if err := s.store.MarkMembersInGame(ctx, room.ID); err != nil {
		s.revert(room.ID, nil)
		metrics.GameLaunches.WithLabelValues("error").Inc()
		return fmt.Errorf("mark members in game: %w", err)
	}

	expires := time.Now().Add(TokenTTL)
	sessions := make([]*models.GameSession, 0, len(connected))
	tokens := make(map[uuid.UUID]string, len(connected))
	for _, m := range connected {
		token, err := mintToken()
		if err != nil {
			s.revert(room.ID, nil)
			metrics.GameLaunches.WithLabelValues("error").Inc()
			return err
		}
		tokens[m.UserID] = token
		meta := models.SessionMetadata{
			PlayerName:   m.LobbyName(),
			IsHost:       m.Role == models.RoleHost,
			TotalPlayers: len(connected),
		}
		if m.User != nil {
			meta.AvatarURL = m.User.AvatarURL
			meta.PremiumTier = m.User.PremiumTier
		}
		sessions = append(sessions, &models.GameSession{
			SessionToken: token,
			RoomID:       room.ID,
			RoomCode:     room.RoomCode,
			PlayerID:     m.UserID,
			GameType:     room.CurrentGame,
			StreamerMode: room.StreamerMode,
			Metadata:     meta,
			ExpiresAt:    expires,
		})
	}

	if err := s.store.InsertGameSessions(ctx, sessions); err != nil {
		minted := make([]string, 0, len(sessions))
		for _, sess := range sessions {
			minted = append(minted, sess.SessionToken)
		}
		s.revert(room.ID, minted)
		metrics.GameLaunches.WithLabelValues("error").Inc()
		return fmt.Errorf("insert game sessions: %w", err)
	}

	// Broadcast the in-game player list before any gameStarted lands.
	players := events.PlayersFromMembers(room.Members)
	for i := range players {
		if players[i].IsConnected {
			players[i].InGame = true
			players[i].CurrentLocation = models.LocationGame
		}
	}
	s.bus.PublishRoom(room.RoomCode, events.PlayerStatusUpdated,
		events.PlayerStatusPayload{Players: players})

	for _, m := range connected {
		isHost := m.Role == models.RoleHost
		payload := events.GameStartedPayload{
			GameURL:  buildGameURL(game.BaseURL, tokens[m.UserID], isHost),
			GameType: room.CurrentGame,
			IsHost:   isHost,
		}
		socketIDs := s.sockets.SocketsForUser(m.UserID)
		if isHost {
			for _, id := range socketIDs {
				s.bus.PublishSocket(id, events.GameStarted, payload)
			}
			continue
		}
		ids := socketIDs
		time.AfterFunc(s.nonHostDelay, func() {
			for _, id := range ids {
				s.bus.PublishSocket(id, events.GameStarted, payload)
			}
		})
	}

	s.logger.WithFields(logrus.Fields{
		"room":    room.RoomCode,
		"game":    room.CurrentGame,
		"players": len(connected),
	}).Info("game launched")
	metrics.GameLaunches.WithLabelValues("ok").Inc()
	return nil
}

// revert rolls a failed launch back to lobby. Best effort: faults here
// are logged, the original launch error still reaches the caller.
func (s *Service) revert(roomID uuid.UUID, mintedTokens []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.UpdateRoomStatus(ctx, roomID, models.RoomStatusLobby); err != nil {
		s.logger.Errorf("launch revert: restore lobby status for %s: %v", roomID, err)
	}
	if err := s.store.MarkMembersReturned(ctx, roomID); err != nil {
		s.logger.Errorf("launch revert: return members for %s: %v", roomID, err)
	}
	if err := s.store.DeleteSessionsForRoom(ctx, roomID, mintedTokens); err != nil {
		s.logger.Errorf("launch revert: delete sessions for %s: %v", roomID, err)
	}
}

// SetNonHostDelay shortens the stagger window. Tests only.
func (s *Service) SetNonHostDelay(d time.Duration) { s.nonHostDelay = d }
