// Package postgres implements the engine's user and authorization
// store contracts on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daycry/auth"
	"github.com/daycry/auth/internal"
)

// Users implements [auth.UserProvider] against a users table.
// Soft-deleted rows (deleted_at set) are invisible to lookups.
type Users struct {
	pool *pgxpool.Pool
}

// NewUsers creates a Users provider backed by the given connection
// pool.
func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

const userColumns = `id, username, email, active, banned, ban_message, created_at, updated_at, deleted_at`

// FindByID retrieves a user by id.
func (p *Users) FindByID(ctx context.Context, id string) (*auth.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND deleted_at IS NULL`

	return p.scanOne(p.pool.QueryRow(ctx, query, id))
}

// FindByCredentials retrieves a user by its identifying credential
// fields. The password key is ignored here; verifying it is the
// caller's job.
func (p *Users) FindByCredentials(ctx context.Context, creds auth.Credentials) (*auth.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE deleted_at IS NULL`

	var args []any
	n := 0
	if email, ok := creds["email"]; ok {
		n++
		query += fmt.Sprintf(" AND lower(email) = lower($%d)", n)
		args = append(args, email)
	}
	if username, ok := creds["username"]; ok {
		n++
		query += fmt.Sprintf(" AND username = $%d", n)
		args = append(args, username)
	}
	if n == 0 {
		return nil, auth.ErrUserNotFound
	}

	return p.scanOne(p.pool.QueryRow(ctx, query, args...))
}

// Save upserts the user, assigning an id on first insert.
func (p *Users) Save(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = internal.NewID()
	}

	query := `
		INSERT INTO users (id, username, email, active, banned, ban_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			active = EXCLUDED.active,
			banned = EXCLUDED.banned,
			ban_message = EXCLUDED.ban_message,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := p.pool.QueryRow(ctx, query,
		u.ID, u.Username, u.Email, u.Active, u.Banned, u.BanMessage,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	return nil
}

func (p *Users) scanOne(row pgx.Row) (*auth.User, error) {
	var (
		u         auth.User
		banMsg    *string
		deletedAt *time.Time
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Active, &u.Banned, &banMsg,
		&u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if banMsg != nil {
		u.BanMessage = *banMsg
	}
	if deletedAt != nil {
		u.DeletedAt = *deletedAt
	}
	return &u, nil
}
