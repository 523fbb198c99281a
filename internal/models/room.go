package models

import (
	"time"

	"github.com/google/uuid"
)

// Room statuses. A room is "alive" in lobby and in_game; returning is a
// transient state while members migrate back from an external game.
const (
	RoomStatusLobby     = "lobby"
	RoomStatusInGame    = "in_game"
	RoomStatusReturning = "returning"
	RoomStatusAbandoned = "abandoned"
)

// Member roles.
const (
	RoleHost   = "host"
	RolePlayer = "player"
)

// Member locations.
const (
	LocationLobby        = "lobby"
	LocationGame         = "game"
	LocationDisconnected = "disconnected"
)

// RoomMetadata is the free-form metadata column on rooms. The core reads
// created_by_name and original_host_id when gating rejoins and returning
// the host seat.
type RoomMetadata struct {
	CreatedByName  string    `json:"created_by_name,omitempty"`
	OriginalHostID uuid.UUID `json:"original_host_id,omitempty"`
}

type Room struct {
	ID           uuid.UUID    `json:"id"`
	RoomCode     string       `json:"room_code"`
	HostID       uuid.UUID    `json:"host_id"`
	Status       string       `json:"status"`
	CurrentGame  string       `json:"current_game,omitempty"`
	MaxPlayers   int          `json:"max_players"`
	IsPublic     bool         `json:"is_public"`
	StreamerMode bool         `json:"streamer_mode"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	Metadata     RoomMetadata `json:"metadata"`

	GameStartedAt *time.Time `json:"game_started_at,omitempty"`

	// Members is populated by GetRoomByCode; nil on bare room reads.
	Members []*RoomMember `json:"members,omitempty"`

	// LivePlayerCount is filled by listing queries that count connected
	// members without hydrating Members.
	LivePlayerCount int `json:"-"`
}

// Alive reports whether the room still accepts normal lobby traffic.
func (r *Room) Alive() bool {
	return r.Status == RoomStatusLobby || r.Status == RoomStatusInGame
}

// ConnectedCount counts members with a live socket. Falls back to the
// listing-query count when Members is not hydrated.
func (r *Room) ConnectedCount() int {
	if r.Members == nil {
		return r.LivePlayerCount
	}
	n := 0
	for _, m := range r.Members {
		if m.IsConnected {
			n++
		}
	}
	return n
}

// HostMember returns the unique host member, or nil mid-transfer.
func (r *Room) HostMember() *RoomMember {
	for _, m := range r.Members {
		if m.Role == RoleHost {
			return m
		}
	}
	return nil
}

// MemberByUser returns the member row for userID, or nil.
func (r *Room) MemberByUser(userID uuid.UUID) *RoomMember {
	for _, m := range r.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

type RoomMember struct {
	ID     uuid.UUID `json:"id"`
	RoomID uuid.UUID `json:"room_id"`
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`

	IsConnected     bool   `json:"is_connected"`
	IsReady         bool   `json:"is_ready"`
	InGame          bool   `json:"in_game"`
	CurrentLocation string `json:"current_location"`

	CustomLobbyName string     `json:"custom_lobby_name,omitempty"`
	SocketID        string     `json:"socket_id,omitempty"`
	LastPing        time.Time  `json:"last_ping"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`

	// User is joined in by GetRoomByCode.
	User *User `json:"user,omitempty"`
}

// LobbyName returns the name shown in the lobby player list.
func (m *RoomMember) LobbyName() string {
	if m.CustomLobbyName != "" {
		return m.CustomLobbyName
	}
	if m.User != nil {
		return m.User.Name()
	}
	return ""
}
