// Package events owns the typed event catalogue and the fan-out bus.
// Lobby clients only ever see events named here; anything else is a bug.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Outbound event names.
const (
	RoomCreated         = "roomCreated"
	RoomJoined          = "roomJoined"
	PlayerJoined        = "playerJoined"
	PlayerLeft          = "playerLeft"
	PlayerDisconnected  = "playerDisconnected"
	PlayerKicked        = "playerKicked"
	PlayerStatusUpdated = "playerStatusUpdated"
	HostTransferred     = "hostTransferred"
	RoomStatusChanged   = "roomStatusChanged"
	GameSelected        = "gameSelected"
	GameStarted         = "gameStarted"
	ChatMessage         = "chat:message"
	FriendOnline        = "friend:online"
	FriendOffline       = "friend:offline"
	FriendListOnline    = "friend:list-online"
	GameInviteReceived  = "game:invite_received"
	AchievementUnlocked = "achievement:unlocked"
	MinigameClick       = "minigame:click"
	TugOfWarPull        = "tugOfWar:pull"
	ErrorEvent          = "error"
	KickFailed          = "kickFailed"
	PublicRooms         = "publicRooms"
)

// Host-transfer reasons carried on HostTransferred payloads.
const (
	ReasonManualTransfer    = "manual_transfer"
	ReasonOriginalHostBack  = "original_host_returned"
	ReasonHostGraceExpired  = "host_disconnect_grace_period_expired"
	ReasonHostLeft          = "host_left"
)

// Envelope is the wire frame for every outbound event. RoomVersion is a
// monotonic epoch-millis stamp clients use to reject stale room updates;
// it is zero on non-room channels.
type Envelope struct {
	Event       string      `json:"event"`
	RoomVersion int64       `json:"roomVersion,omitempty"`
	Data        interface{} `json:"data,omitempty"`
}

// PlayerInfo is the player list entry included in room broadcasts.
type PlayerInfo struct {
	UserID          uuid.UUID `json:"userId"`
	Name            string    `json:"name"`
	Role            string    `json:"role"`
	IsConnected     bool      `json:"isConnected"`
	IsReady         bool      `json:"isReady"`
	InGame          bool      `json:"inGame"`
	CurrentLocation string    `json:"currentLocation"`
	AvatarURL       string    `json:"avatarUrl,omitempty"`
	PremiumTier     string    `json:"premiumTier,omitempty"`
	IsGuest         bool      `json:"isGuest"`
}

// RoomSnapshot is the room summary included in join/create responses and
// public listings.
type RoomSnapshot struct {
	RoomID       uuid.UUID `json:"roomId"`
	RoomCode     string    `json:"roomCode"`
	HostID       uuid.UUID `json:"hostId"`
	Status       string    `json:"status"`
	CurrentGame  string    `json:"currentGame,omitempty"`
	MaxPlayers   int       `json:"maxPlayers"`
	IsPublic     bool      `json:"isPublic"`
	StreamerMode bool      `json:"streamerMode"`
	PlayerCount  int       `json:"playerCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

type RoomWelcomePayload struct {
	Room    RoomSnapshot `json:"room"`
	Players []PlayerInfo `json:"players"`
	IsHost  bool         `json:"isHost"`
	YourID  uuid.UUID    `json:"yourId"`
}

type PlayerDeltaPayload struct {
	Player  PlayerInfo   `json:"player"`
	Players []PlayerInfo `json:"players"`
}

type PlayerKickedPayload struct {
	TargetUserID uuid.UUID    `json:"targetUserId"`
	KickedBy     string       `json:"kickedBy"`
	Reason       string       `json:"reason,omitempty"`
	Players      []PlayerInfo `json:"players,omitempty"`
}

type PlayerStatusPayload struct {
	Players []PlayerInfo `json:"players"`
}

type HostTransferredPayload struct {
	OldHostID uuid.UUID `json:"oldHostId"`
	NewHostID uuid.UUID `json:"newHostId"`
	Reason    string    `json:"reason"`
}

type RoomStatusChangedPayload struct {
	OldStatus   string `json:"oldStatus"`
	NewStatus   string `json:"newStatus"`
	IsAutomatic bool   `json:"isAutomatic"`
	Reason      string `json:"reason,omitempty"`
}

type GameSelectedPayload struct {
	GameType string                 `json:"gameType"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

type GameStartedPayload struct {
	GameURL  string `json:"gameUrl"`
	GameType string `json:"gameType"`
	IsHost   bool   `json:"isHost"`
}

type ChatMessagePayload struct {
	ID         uuid.UUID `json:"id"`
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
	Ts         int64     `json:"ts"`
}

type FriendPresencePayload struct {
	UserID uuid.UUID `json:"userId"`
}

type FriendListOnlinePayload struct {
	UserIDs []uuid.UUID `json:"userIds"`
}

type GameInvitePayload struct {
	RoomID   uuid.UUID `json:"roomId"`
	RoomCode string    `json:"roomCode"`
	GameName string    `json:"gameName"`
	HostName string    `json:"hostName"`
	SenderID uuid.UUID `json:"senderId"`
}

type AchievementPayload struct {
	Achievements []string `json:"achievements"`
}

type MinigamePayload struct {
	UserID uuid.UUID `json:"userId"`
	Name   string    `json:"name"`
	Score  int       `json:"score,omitempty"`
	TimeMs int       `json:"timeMs,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type KickFailedPayload struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type PublicRoomsPayload struct {
	Rooms []RoomSnapshot `json:"rooms"`
}
