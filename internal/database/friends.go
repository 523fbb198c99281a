package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openlobby/lobbyd/internal/models"
)

// InsertFriendRequest inserts a row into friendships with status='pending'.
func (s *Store) InsertFriendRequest(ctx context.Context, userID, friendID uuid.UUID) error {
	q := `
		INSERT INTO friendships (user_id, friend_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (user_id, friend_id)
		DO UPDATE SET status='pending', updated_at=NOW()
	`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID, friendID)
		return err
	})
}

// AcceptFriend sets status='accepted' for a pending (requester, target) edge.
func (s *Store) AcceptFriend(ctx context.Context, requesterID, targetID uuid.UUID) error {
	q := `
		UPDATE friendships
		SET status='accepted', updated_at=NOW()
		WHERE user_id=$1 AND friend_id=$2 AND status='pending'
	`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, q, requesterID, targetID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("no pending friend request found from %v to %v", requesterID, targetID)
		}
		return nil
	})
}

// ListFriends returns every friendship row touching the user, pending or
// accepted, in either direction.
func (s *Store) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error) {
	q := `
		SELECT user_id, friend_id, status, updated_at
		FROM friendships
		WHERE user_id=$1 OR friend_id=$1
	`
	rows, err := s.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fs []models.Friendship
	for rows.Next() {
		var f models.Friendship
		if err := rows.Scan(&f.UserID, &f.FriendID, &f.Status, &f.UpdatedAt); err != nil {
			return nil, err
		}
		fs = append(fs, f)
	}
	return fs, rows.Err()
}

// ListAcceptedFriendIDs returns the ids on the far side of every accepted
// edge for the user. Only these drive online/offline broadcasts.
func (s *Store) ListAcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	q := `
		SELECT CASE WHEN user_id=$1 THEN friend_id ELSE user_id END
		FROM friendships
		WHERE (user_id=$1 OR friend_id=$1) AND status='accepted'
	`
	rows, err := s.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RemoveFriend hard deletes the relation in both directions.
func (s *Store) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	q := `
		DELETE FROM friendships
		WHERE (user_id=$1 AND friend_id=$2)
		   OR (user_id=$2 AND friend_id=$1)
	`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID, friendID)
		return err
	})
}
