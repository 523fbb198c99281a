package models

import "github.com/google/uuid"

type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email,omitempty"`
	Password    string    `json:"password,omitempty"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`

	IsGuest     bool   `json:"is_guest"`
	Role        string `json:"role"` // user, admin, moderator
	PremiumTier string `json:"premium_tier,omitempty"`
	Level       int    `json:"level"`

	AvatarURL     string `json:"avatar_url,omitempty"`
	OAuthProvider string `json:"oauth_provider,omitempty"`
}

// Name returns the best display string for the user.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
