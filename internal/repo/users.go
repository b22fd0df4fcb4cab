package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertUserByPlatformID stores or updates a user keyed by the platform user
// id, keeping an already-known username when the new one is absent.
func (r *PostgresRepository) UpsertUserByPlatformID(ctx context.Context, platformUserID string, username *string) (*User, error) {
	const q = `
INSERT INTO users (platform_user_id, username, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (platform_user_id) DO UPDATE SET
    username = COALESCE(EXCLUDED.username, users.username),
    updated_at = NOW()
RETURNING id, platform_user_id, username, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, platformUserID, username)

	var u User
	if err := row.Scan(&u.ID, &u.PlatformUserID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

// GetUserByID returns a user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT id, platform_user_id, username, created_at, updated_at
FROM users
WHERE id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, id)
	var user User
	if err := row.Scan(&user.ID, &user.PlatformUserID, &user.Username, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &user, nil
}
