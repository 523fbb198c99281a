package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openlobby/lobbyd/internal/models"
)

// ErrSessionNotFound is returned for unknown or expired launch tokens.
var ErrSessionNotFound = errors.New("game session not found")

// InsertGameSessions writes one launch credential per participant in a
// single transaction so a partially-minted launch never leaks tokens.
func (s *Store) InsertGameSessions(ctx context.Context, sessions []*models.GameSession) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, sess := range sessions {
			if sess.ID == uuid.Nil {
				sess.ID = uuid.New()
			}
			metaRaw, err := json.Marshal(sess.Metadata)
			if err != nil {
				return fmt.Errorf("marshal session metadata: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO game_sessions (id, session_token, room_id, room_code,
				                           player_id, game_type, streamer_mode,
				                           metadata, created_at, expires_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9)`,
				sess.ID, sess.SessionToken, sess.RoomID, sess.RoomCode,
				sess.PlayerID, sess.GameType, sess.StreamerMode, metaRaw,
				sess.ExpiresAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSessionByToken resolves an unexpired launch token. External game
// servers call this through the launch-auth endpoint.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (*models.GameSession, error) {
	var sess models.GameSession
	var metaRaw []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT id, session_token, room_id, room_code, player_id, game_type,
		       streamer_mode, metadata, created_at, expires_at
		FROM game_sessions
		WHERE session_token=$1 AND expires_at > NOW()`,
		token).Scan(
		&sess.ID, &sess.SessionToken, &sess.RoomID, &sess.RoomCode,
		&sess.PlayerID, &sess.GameType, &sess.StreamerMode, &metaRaw,
		&sess.CreatedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("bad session metadata: %w", err)
		}
	}
	return &sess, nil
}

// DeleteSessionsForRoom is the best-effort cleanup path when a launch
// fails after some rows were written.
func (s *Store) DeleteSessionsForRoom(ctx context.Context, roomID uuid.UUID, since []string) error {
	if len(since) == 0 {
		_, err := s.Pool.Exec(ctx,
			`DELETE FROM game_sessions WHERE room_id=$1`, roomID)
		return err
	}
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM game_sessions WHERE room_id=$1 AND session_token = ANY($2)`,
		roomID, since)
	return err
}
