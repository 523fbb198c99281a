package models

import "github.com/google/uuid"

// Game is a launchable game definition. External games run on their own
// servers; the core only mints sessions and pings ServerURL for health.
type Game struct {
	ID         uuid.UUID `json:"id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	BaseURL    string    `json:"base_url"`
	ServerURL  string    `json:"server_url,omitempty"`
	IsExternal bool      `json:"is_external"`
	IsActive   bool      `json:"is_active"`
	MinPlayers int       `json:"min_players"`
	MaxPlayers int       `json:"max_players"`
}
