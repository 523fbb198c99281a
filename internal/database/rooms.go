package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openlobby/lobbyd/internal/models"
)

// ErrRoomNotFound is returned for lookups that match no live room.
var ErrRoomNotFound = errors.New("room not found")

// ErrNotAMember is returned by host transfers targeting a non-member.
var ErrNotAMember = errors.New("target user is not a room member")

const roomColumns = `
	id, room_code, host_id, status, current_game, max_players,
	is_public, streamer_mode, created_at, last_activity,
	game_started_at, metadata`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	var currentGame *string
	var metaRaw []byte
	err := row.Scan(
		&r.ID, &r.RoomCode, &r.HostID, &r.Status, &currentGame, &r.MaxPlayers,
		&r.IsPublic, &r.StreamerMode, &r.CreatedAt, &r.LastActivity,
		&r.GameStartedAt, &metaRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if currentGame != nil {
		r.CurrentGame = *currentGame
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &r.Metadata); err != nil {
			return nil, fmt.Errorf("bad room metadata for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

// RoomCodeExists reports whether a non-abandoned room already holds code.
func (s *Store) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	q := `SELECT 1 FROM rooms WHERE room_code=$1 AND status <> 'abandoned' LIMIT 1`
	var tmp int
	err := s.Pool.QueryRow(ctx, q, code).Scan(&tmp)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetRoomByCode fetches a room with all member rows and each member's
// user joined in.
func (s *Store) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	room, err := scanRoom(s.Pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE room_code=$1`, code))
	if err != nil {
		return nil, err
	}

	q := `
	SELECT m.id, m.room_id, m.user_id, m.role, m.is_connected, m.is_ready,
	       m.in_game, m.current_location, m.custom_lobby_name, m.socket_id,
	       m.last_ping, m.joined_at, m.left_at,
	       u.username, u.display_name, u.is_guest, u.role, u.premium_tier,
	       u.level, u.avatar_url
	FROM room_members m
	JOIN users u ON u.id = m.user_id
	WHERE m.room_id = $1
	ORDER BY m.joined_at, m.user_id
	`
	rows, err := s.Pool.Query(ctx, q, room.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m models.RoomMember
		var u models.User
		var customName, socketID, avatarURL, premiumTier *string
		err := rows.Scan(
			&m.ID, &m.RoomID, &m.UserID, &m.Role, &m.IsConnected, &m.IsReady,
			&m.InGame, &m.CurrentLocation, &customName, &socketID,
			&m.LastPing, &m.JoinedAt, &m.LeftAt,
			&u.Username, &u.DisplayName, &u.IsGuest, &u.Role, &premiumTier,
			&u.Level, &avatarURL,
		)
		if err != nil {
			return nil, err
		}
		if customName != nil {
			m.CustomLobbyName = *customName
		}
		if socketID != nil {
			m.SocketID = *socketID
		}
		if avatarURL != nil {
			u.AvatarURL = *avatarURL
		}
		if premiumTier != nil {
			u.PremiumTier = *premiumTier
		}
		u.ID = m.UserID
		m.User = &u
		room.Members = append(room.Members, &m)
	}
	return room, rows.Err()
}

// CreateRoom inserts the room row and the host member row in one
// transaction.
func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	metaRaw, err := json.Marshal(room.Metadata)
	if err != nil {
		return fmt.Errorf("marshal room metadata: %w", err)
	}

	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, room_code, host_id, status, current_game,
			                   max_players, is_public, streamer_mode,
			                   created_at, last_activity, metadata)
			VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, $8, NOW(), NOW(), $9)`,
			room.ID, room.RoomCode, room.HostID, room.Status, room.CurrentGame,
			room.MaxPlayers, room.IsPublic, room.StreamerMode, metaRaw,
		)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO room_members (id, room_id, user_id, role, is_connected,
			                          current_location, last_ping, joined_at)
			VALUES ($1, $2, $3, 'host', true, 'lobby', NOW(), NOW())`,
			uuid.New(), room.ID, room.HostID,
		)
		return err
	})
}

// AddParticipant upserts a member row keyed on (room_id, user_id). The
// role is applied only on insert; an existing row keeps its role and is
// reconnected in place. A rejoin while the room is in_game lands the
// member back in the game, not the lobby, so the running game survives
// socket churn.
func (s *Store) AddParticipant(ctx context.Context, roomID, userID uuid.UUID, socketID, role, customName string) (*models.RoomMember, error) {
	var m models.RoomMember
	var cn, sid *string
	q := `
	INSERT INTO room_members (id, room_id, user_id, role, is_connected,
	                          current_location, socket_id, custom_lobby_name,
	                          last_ping, joined_at)
	VALUES ($1, $2, $3, $4, true, 'lobby', $5, NULLIF($6,''), NOW(), NOW())
	ON CONFLICT (room_id, user_id) DO UPDATE
	SET is_connected = true,
	    in_game = ((SELECT status FROM rooms WHERE id = room_members.room_id) = 'in_game'),
	    current_location = CASE
	        WHEN (SELECT status FROM rooms WHERE id = room_members.room_id) = 'in_game' THEN 'game'
	        ELSE 'lobby'
	    END,
	    socket_id = EXCLUDED.socket_id,
	    custom_lobby_name = COALESCE(EXCLUDED.custom_lobby_name, room_members.custom_lobby_name),
	    last_ping = NOW(),
	    left_at = NULL
	RETURNING id, room_id, user_id, role, is_connected, is_ready, in_game,
	          current_location, custom_lobby_name, socket_id, last_ping, joined_at
	`
	err := s.Pool.QueryRow(ctx, q, uuid.New(), roomID, userID, role, socketID, customName).Scan(
		&m.ID, &m.RoomID, &m.UserID, &m.Role, &m.IsConnected, &m.IsReady,
		&m.InGame, &m.CurrentLocation, &cn, &sid, &m.LastPing, &m.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	if cn != nil {
		m.CustomLobbyName = *cn
	}
	if sid != nil {
		m.SocketID = *sid
	}
	return &m, nil
}

// PromoteToHost flips the member's role to host and syncs rooms.host_id.
// Used for host-hint promotion when the room has no host.
func (s *Store) PromoteToHost(ctx context.Context, roomID, userID uuid.UUID) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`UPDATE room_members SET role='host' WHERE room_id=$1 AND user_id=$2`,
			roomID, userID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrNotAMember
		}
		_, err = tx.Exec(ctx, `UPDATE rooms SET host_id=$1 WHERE id=$2`, userID, roomID)
		return err
	})
}

// RemoveParticipant deletes the member row and reports whether the
// removed member held the host seat.
func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) (wasHost bool, err error) {
	err = pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`DELETE FROM room_members WHERE room_id=$1 AND user_id=$2 RETURNING role`,
			roomID, userID)
		var role string
		if err := row.Scan(&role); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		wasHost = role == models.RoleHost
		return nil
	})
	return wasHost, err
}

// UpdateParticipantConnection maps a status string onto the presence
// columns:
//
//	connected    -> is_connected=true,  current_location=lobby
//	game         -> is_connected=true,  in_game=true, current_location=game
//	disconnected -> is_connected=false, current_location=disconnected
func (s *Store) UpdateParticipantConnection(ctx context.Context, userID uuid.UUID, socketID, status, customName string) error {
	var q string
	switch status {
	case "connected":
		q = `UPDATE room_members
		     SET is_connected=true, current_location='lobby', socket_id=$2,
		         custom_lobby_name=COALESCE(NULLIF($3,''), custom_lobby_name),
		         last_ping=NOW()
		     WHERE user_id=$1`
	case "game":
		q = `UPDATE room_members
		     SET is_connected=true, in_game=true, current_location='game',
		         socket_id=$2,
		         custom_lobby_name=COALESCE(NULLIF($3,''), custom_lobby_name),
		         last_ping=NOW()
		     WHERE user_id=$1`
	case "disconnected":
		q = `UPDATE room_members
		     SET is_connected=false, current_location='disconnected', socket_id=$2,
		         custom_lobby_name=COALESCE(NULLIF($3,''), custom_lobby_name)
		     WHERE user_id=$1`
	default:
		return fmt.Errorf("unknown connection status %q", status)
	}
	_, err := s.Pool.Exec(ctx, q, userID, socketID, customName)
	return err
}

// TouchMemberPing refreshes last_ping for the throttled heartbeat write.
func (s *Store) TouchMemberPing(ctx context.Context, userID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE room_members SET last_ping=NOW() WHERE user_id=$1 AND is_connected=true`,
		userID)
	return err
}

// TransferHost demotes the old host to player, promotes the new host, and
// updates rooms.host_id, all in one transaction.
func (s *Store) TransferHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`UPDATE room_members SET role='host' WHERE room_id=$1 AND user_id=$2`,
			roomID, newHostID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrNotAMember
		}
		_, err = tx.Exec(ctx,
			`UPDATE room_members SET role='player' WHERE room_id=$1 AND user_id=$2`,
			roomID, oldHostID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE rooms SET host_id=$1 WHERE id=$2`, newHostID, roomID)
		return err
	})
}

// AutoTransferHost picks the next eligible member (connected, not the
// leaver, lowest joined_at, ties broken by lowest user_id) and applies
// TransferHost. Returns nil without error when no candidate remains.
func (s *Store) AutoTransferHost(ctx context.Context, roomID, leavingHostID uuid.UUID) (*models.RoomMember, error) {
	q := `
	SELECT user_id FROM room_members
	WHERE room_id=$1 AND user_id <> $2 AND is_connected=true
	ORDER BY joined_at, user_id
	LIMIT 1
	`
	var newHostID uuid.UUID
	err := s.Pool.QueryRow(ctx, q, roomID, leavingHostID).Scan(&newHostID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.TransferHost(ctx, roomID, leavingHostID, newHostID); err != nil {
		return nil, err
	}

	var m models.RoomMember
	err = s.Pool.QueryRow(ctx, `
		SELECT id, room_id, user_id, role, is_connected, is_ready, in_game,
		       current_location, last_ping, joined_at
		FROM room_members WHERE room_id=$1 AND user_id=$2`,
		roomID, newHostID).Scan(
		&m.ID, &m.RoomID, &m.UserID, &m.Role, &m.IsConnected, &m.IsReady,
		&m.InGame, &m.CurrentLocation, &m.LastPing, &m.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateRoomStatus writes the status and keeps invariant 3: entering the
// lobby state always clears current_game; entering in_game stamps
// game_started_at.
func (s *Store) UpdateRoomStatus(ctx context.Context, roomID uuid.UUID, status string) error {
	var q string
	switch status {
	case models.RoomStatusLobby:
		q = `UPDATE rooms SET status=$2, current_game=NULL, game_started_at=NULL,
		     last_activity=NOW() WHERE id=$1`
	case models.RoomStatusInGame:
		q = `UPDATE rooms SET status=$2, game_started_at=NOW(), last_activity=NOW()
		     WHERE id=$1`
	default:
		q = `UPDATE rooms SET status=$2, last_activity=NOW() WHERE id=$1`
	}
	_, err := s.Pool.Exec(ctx, q, roomID, status)
	return err
}

// SetCurrentGame records the selected game for a lobby-status room.
func (s *Store) SetCurrentGame(ctx context.Context, roomID uuid.UUID, gameType string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE rooms SET current_game=NULLIF($2,''), last_activity=NOW() WHERE id=$1`,
		roomID, gameType)
	return err
}

// TouchRoomActivity bumps last_activity; used on every accepted inbound
// event so the cleanup job sees live rooms.
func (s *Store) TouchRoomActivity(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `UPDATE rooms SET last_activity=NOW() WHERE id=$1`, roomID)
	return err
}

// MarkMembersInGame flips every connected member of the room into the
// in-game location in one statement.
func (s *Store) MarkMembersInGame(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE room_members SET in_game=true, current_location='game'
		WHERE room_id=$1 AND is_connected=true`, roomID)
	return err
}

// MarkMembersReturned resets every member of the room to the lobby
// location. Used by the majority-in-lobby reconciliation.
func (s *Store) MarkMembersReturned(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE room_members SET in_game=false,
		       current_location = CASE WHEN is_connected THEN 'lobby' ELSE 'disconnected' END
		WHERE room_id=$1`, roomID)
	return err
}

// MarkMemberReturned brings a single member back to the lobby.
func (s *Store) MarkMemberReturned(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE room_members SET in_game=false, current_location='lobby', last_ping=NOW()
		WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	return err
}

// SweepStaleMembers marks lobby members whose ping is older than cutoff
// as disconnected. Members located in an external game are never touched
// here; they are reconciled only by socket events or session expiry.
func (s *Store) SweepStaleMembers(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.Pool.Exec(ctx, `
		UPDATE room_members
		SET is_connected=false, current_location='disconnected'
		WHERE is_connected=true AND in_game=false
		  AND current_location <> 'game' AND last_ping < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// GetActiveRooms lists public rooms with at least one member pinged in
// the last 5 minutes, newest first, capped at 50.
func (s *Store) GetActiveRooms(ctx context.Context, gameType string) ([]*models.Room, error) {
	q := `
	SELECT ` + roomColumns + `,
	       (SELECT COUNT(*) FROM room_members m
	        WHERE m.room_id = r.id AND m.is_connected = true) AS live_players
	FROM rooms r
	WHERE r.is_public = true
	  AND r.status IN ('lobby','in_game')
	  AND ($1 = '' OR r.current_game = $1)
	  AND EXISTS (
	      SELECT 1 FROM room_members m
	      WHERE m.room_id = r.id AND m.last_ping > NOW() - INTERVAL '5 minutes')
	ORDER BY r.created_at DESC
	LIMIT 50
	`
	rows, err := s.Pool.Query(ctx, q, gameType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		var r models.Room
		var currentGame *string
		var metaRaw []byte
		err := rows.Scan(
			&r.ID, &r.RoomCode, &r.HostID, &r.Status, &currentGame, &r.MaxPlayers,
			&r.IsPublic, &r.StreamerMode, &r.CreatedAt, &r.LastActivity,
			&r.GameStartedAt, &metaRaw, &r.LivePlayerCount,
		)
		if err != nil {
			return nil, err
		}
		if currentGame != nil {
			r.CurrentGame = *currentGame
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &r.Metadata); err != nil {
				return nil, fmt.Errorf("bad room metadata for %s: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CleanupOptions selects the cleanup variant. The aggressive overnight
// sweep shortens both idle thresholds.
type CleanupOptions struct {
	LobbyIdle  time.Duration // default 1h
	InGameIdle time.Duration // default 4h
	MaxAge     time.Duration // default 24h
	DryRun     bool
}

// CleanupInactiveRooms deletes rooms matching the §6 predicates, skipping
// any room that still has a live or in-game member. Dry runs return the
// would-be count without deleting.
func (s *Store) CleanupInactiveRooms(ctx context.Context, opts CleanupOptions) (int64, error) {
	if opts.LobbyIdle == 0 {
		opts.LobbyIdle = time.Hour
	}
	if opts.InGameIdle == 0 {
		opts.InGameIdle = 4 * time.Hour
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = 24 * time.Hour
	}

	cond := `
	( (r.status = 'lobby'   AND r.last_activity < NOW() - $1::interval)
	  OR (r.status = 'in_game' AND r.last_activity < NOW() - $2::interval)
	  OR r.created_at < NOW() - $3::interval )
	AND NOT EXISTS (
	    SELECT 1 FROM room_members m
	    WHERE m.room_id = r.id
	      AND (m.is_connected = true OR m.in_game = true OR m.current_location = 'game'))
	`
	args := []interface{}{opts.LobbyIdle, opts.InGameIdle, opts.MaxAge}

	if opts.DryRun {
		var n int64
		err := s.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM rooms r WHERE `+cond, args...).Scan(&n)
		return n, err
	}

	var n int64
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM room_members WHERE room_id IN (
			    SELECT r.id FROM rooms r WHERE `+cond+`)`, args...)
		if err != nil {
			return err
		}
		ct, err := tx.Exec(ctx, `
			DELETE FROM rooms WHERE id IN (
			    SELECT r.id FROM rooms r WHERE `+cond+`)`, args...)
		if err != nil {
			return err
		}
		n = ct.RowsAffected()
		return nil
	})
	return n, err
}
