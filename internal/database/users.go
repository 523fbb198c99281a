package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openlobby/lobbyd/internal/auth"
	"github.com/openlobby/lobbyd/internal/models"
)

// ErrUserNotFound is returned when an authenticated id has no user row.
var ErrUserNotFound = errors.New("user not found")

const userColumns = `
	id, username, display_name, is_guest, role,
	COALESCE(premium_tier,''), level, COALESCE(avatar_url,''),
	COALESCE(email,''), COALESCE(oauth_provider,'')`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.IsGuest, &u.Role,
		&u.PremiumTier, &u.Level, &u.AvatarURL, &u.Email, &u.OAuthProvider,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID fetches a user row by id.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(s.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

// GetUserByUsername fetches a user row by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

// CreateUser inserts a registered user with an argon2id password hash.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	hash, err := auth.CreateHash(user.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hash

	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, password, username, display_name,
			                   is_guest, role, level)
			VALUES ($1, NULLIF($2,''), $3, $4, $5, false, $6, 1)`,
			user.ID, user.Email, user.Password, user.Username,
			user.DisplayName, user.Role,
		)
		return err
	})
}

// CreateGuest mints a guest user row for a socket that joined with only a
// display name. Guest rows are never destroyed by the core.
func (s *Store) CreateGuest(ctx context.Context, displayName string) (*models.User, error) {
	u := &models.User{
		ID:          uuid.New(),
		Username:    fmt.Sprintf("guest_%s", uuid.NewString()[:8]),
		DisplayName: displayName,
		IsGuest:     true,
		Role:        "user",
		Level:       1,
	}
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, username, display_name, is_guest, role, level)
			VALUES ($1, $2, $3, true, 'user', 1)`,
			u.ID, u.Username, u.DisplayName,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert guest user: %w", err)
	}
	return u, nil
}

// AuthenticateUser checks credentials and returns a signed JWT.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	var id uuid.UUID
	var hash string
	err := s.Pool.QueryRow(ctx,
		`SELECT id, password FROM users WHERE username=$1 AND is_guest=false`,
		username).Scan(&id, &hash)
	if err != nil {
		return "", fmt.Errorf("user not found or db error: %w", err)
	}

	match, err := auth.ComparePasswordAndHash(password, hash)
	if err != nil || !match {
		return "", fmt.Errorf("invalid credentials")
	}

	token, err := auth.CreateJWT(id.String())
	if err != nil {
		return "", fmt.Errorf("failed to create jwt: %w", err)
	}
	return token, nil
}

// UpdateProfile writes the mutable display fields. Lengths are validated
// by the caller.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE users
		SET display_name = COALESCE(NULLIF($2,''), display_name),
		    avatar_url = COALESCE(NULLIF($3,''), avatar_url)
		WHERE id=$1`, id, displayName, avatarURL)
	return err
}
