package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/openlobby/lobbyd/internal/models"
)

// ErrGameNotFound is returned for unknown or inactive game slugs.
var ErrGameNotFound = errors.New("game not found")

const gameColumns = `
	id, slug, name, base_url, COALESCE(server_url,''),
	is_external, is_active, min_players, max_players`

// GetGameBySlug fetches an active game definition.
func (s *Store) GetGameBySlug(ctx context.Context, slug string) (*models.Game, error) {
	var g models.Game
	err := s.Pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE slug=$1 AND is_active=true`,
		slug).Scan(
		&g.ID, &g.Slug, &g.Name, &g.BaseURL, &g.ServerURL,
		&g.IsExternal, &g.IsActive, &g.MinPlayers, &g.MaxPlayers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GetExternalGames lists the games the keep-alive supervisor pings.
func (s *Store) GetExternalGames(ctx context.Context) ([]*models.Game, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+gameColumns+` FROM games
		WHERE is_external=true AND is_active=true AND server_url IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Game
	for rows.Next() {
		var g models.Game
		err := rows.Scan(
			&g.ID, &g.Slug, &g.Name, &g.BaseURL, &g.ServerURL,
			&g.IsExternal, &g.IsActive, &g.MinPlayers, &g.MaxPlayers)
		if err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}
