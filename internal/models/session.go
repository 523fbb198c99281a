package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionMetadata travels with a launch token so the external game server
// can render the player without a round trip to the user store.
type SessionMetadata struct {
	PlayerName   string `json:"player_name"`
	IsHost       bool   `json:"is_host"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	PremiumTier  string `json:"premium_tier,omitempty"`
	TotalPlayers int    `json:"total_players"`
}

// GameSession is a one-shot launch credential. Tokens are 32 random bytes
// hex encoded and are never reused; a new launch mints fresh rows.
type GameSession struct {
	ID           uuid.UUID       `json:"id"`
	SessionToken string          `json:"session_token"`
	RoomID       uuid.UUID       `json:"room_id"`
	RoomCode     string          `json:"room_code"`
	PlayerID     uuid.UUID       `json:"player_id"`
	GameType     string          `json:"game_type"`
	StreamerMode bool            `json:"streamer_mode"`
	Metadata     SessionMetadata `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}
