// Package handlers exposes the lobby service over HTTP and WebSocket:
// the /ws socket endpoint, user and friend endpoints, the public room
// listing, and the launch-session auth endpoint game servers call.
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/middleware"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/registry"
	"github.com/openlobby/lobbyd/internal/room"
)

// HTTPStore is the slice of the datastore the HTTP endpoints need.
// *database.Store satisfies it; tests use fakes.
type HTTPStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	AuthenticateUser(ctx context.Context, username, password string) (string, error)
	CreateGuest(ctx context.Context, displayName string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL string) error
	InsertFriendRequest(ctx context.Context, userID, friendID uuid.UUID) error
	AcceptFriend(ctx context.Context, requesterID, targetID uuid.UUID) error
	ListFriends(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error)
	RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error
	GetSessionByToken(ctx context.Context, token string) (*models.GameSession, error)
	Ping(ctx context.Context) error
}

// RoomService is the room lifecycle surface the socket layer drives.
// *room.Service satisfies it.
type RoomService interface {
	Create(ctx context.Context, socketID string, p room.CreateParams) (*models.Room, error)
	Join(ctx context.Context, socketID string, p room.JoinParams) (*models.Room, error)
	Leave(ctx context.Context, socketID, roomCode string) error
	Disconnect(ctx context.Context, conn *registry.Connection)
	Kick(ctx context.Context, socketID, roomCode string, targetUserID uuid.UUID, reason string) error
	TransferHost(ctx context.Context, socketID, roomCode string, targetUserID uuid.UUID) error
	SelectGame(ctx context.Context, socketID, roomCode, gameType string, settings map[string]interface{}) error
	ChangeStatus(ctx context.Context, socketID, roomCode, newStatus string, isAutomatic bool, reason string) error
	ReturnToLobby(ctx context.Context, socketID, roomCode string) error
	BroadcastRoster(ctx context.Context, roomCode string)
	PublicRooms(ctx context.Context, gameType string) ([]events.RoomSnapshot, error)
}

// GameLauncher starts external games. *launch.Service satisfies it.
type GameLauncher interface {
	StartGame(ctx context.Context, roomCode string, callerID uuid.UUID) error
}

// SocialService handles friend presence and invites. *social.Service
// satisfies it.
type SocialService interface {
	Identify(ctx context.Context, socketID string, userID uuid.UUID) error
	Disconnected(ctx context.Context, userID uuid.UUID)
	Invite(ctx context.Context, senderID uuid.UUID, senderName string, targetUserID uuid.UUID, roomCode, gameName string) error
}

// PresenceTracker consumes heartbeat frames. *presence.Tracker
// satisfies it.
type PresenceTracker interface {
	Heartbeat(ctx context.Context, socketID string)
}

// Server bundles the handler dependencies.
type Server struct {
	Logger   *logrus.Logger
	Store    HTTPStore
	Reg      *registry.Registry
	Bus      *events.Bus
	Rooms    RoomService
	Launch   GameLauncher
	Social   SocialService
	Presence PresenceTracker
}

// Routes wires every endpoint onto a mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(s.Logger)

	// user endpoints
	mux.HandleFunc("/user/create", s.CreateUserHandler)
	mux.HandleFunc("/user/login", s.LoginHandler)
	mux.HandleFunc("/user/guest", s.CreateGuestHandler)

	// friend endpoints
	mux.HandleFunc("/friends/add", s.AddFriendHandler)
	mux.HandleFunc("/friends/accept", s.AcceptFriendHandler)
	mux.HandleFunc("/friends/list", s.ListFriendsHandler)
	mux.HandleFunc("/friends/remove", s.RemoveFriendHandler)

	// lobby surface
	mux.HandleFunc("/rooms/public", s.PublicRoomsHandler)
	mux.Handle("/ws", logged(http.HandlerFunc(s.LobbyWSHandler)))

	// external game servers authenticate launch tokens and relay
	// achievement unlocks here
	mux.HandleFunc("/launch/session", s.LaunchSessionHandler)
	mux.HandleFunc("/launch/achievements", s.AchievementsHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
