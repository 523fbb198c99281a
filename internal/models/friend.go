package models

import (
	"time"

	"github.com/google/uuid"
)

// Friendship statuses. Only accepted edges drive presence broadcasts.
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
	FriendBlocked  = "blocked"
)

type Friendship struct {
	UserID    uuid.UUID `json:"user_id"`
	FriendID  uuid.UUID `json:"friend_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
