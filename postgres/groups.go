package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Groups implements [auth.GroupStore] against users_groups and
// users_permissions tables. Rows with a past until_at are filtered in
// SQL, so expired grants never reach the resolver.
type Groups struct {
	pool *pgxpool.Pool
}

// NewGroups creates a Groups store backed by the given connection
// pool.
func NewGroups(pool *pgxpool.Pool) *Groups {
	return &Groups{pool: pool}
}

// GroupsForUser returns the user's unexpired group names.
func (p *Groups) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT "group"
		FROM users_groups
		WHERE user_id = $1
		  AND (until_at IS NULL OR until_at > NOW())
		ORDER BY created_at ASC`

	return p.list(ctx, query, userID, "group")
}

// PermissionsForUser returns the user's unexpired directly-assigned
// permissions.
func (p *Groups) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT permission
		FROM users_permissions
		WHERE user_id = $1
		  AND (until_at IS NULL OR until_at > NOW())
		ORDER BY created_at ASC`

	return p.list(ctx, query, userID, "permission")
}

// AddGroups grants the listed groups to the user. Existing grants are
// refreshed to permanent.
func (p *Groups) AddGroups(ctx context.Context, userID string, groups []string) error {
	return p.add(ctx, `
		INSERT INTO users_groups (user_id, "group", created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, "group") DO UPDATE SET until_at = NULL`,
		userID, groups)
}

// RemoveGroups revokes the listed groups from the user.
func (p *Groups) RemoveGroups(ctx context.Context, userID string, groups []string) error {
	query := `DELETE FROM users_groups WHERE user_id = $1 AND "group" = ANY($2)`

	if _, err := p.pool.Exec(ctx, query, userID, groups); err != nil {
		return fmt.Errorf("removing groups: %w", err)
	}
	return nil
}

// AddPermissions grants the listed permissions directly to the user.
func (p *Groups) AddPermissions(ctx context.Context, userID string, perms []string) error {
	return p.add(ctx, `
		INSERT INTO users_permissions (user_id, permission, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, permission) DO UPDATE SET until_at = NULL`,
		userID, perms)
}

// RemovePermissions revokes the listed direct permissions from the
// user.
func (p *Groups) RemovePermissions(ctx context.Context, userID string, perms []string) error {
	query := `DELETE FROM users_permissions WHERE user_id = $1 AND permission = ANY($2)`

	if _, err := p.pool.Exec(ctx, query, userID, perms); err != nil {
		return fmt.Errorf("removing permissions: %w", err)
	}
	return nil
}

// GrantGroupUntil grants a group that lapses at the given time.
func (p *Groups) GrantGroupUntil(ctx context.Context, userID, group string, until time.Time) error {
	query := `
		INSERT INTO users_groups (user_id, "group", until_at, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, "group") DO UPDATE SET until_at = EXCLUDED.until_at`

	if _, err := p.pool.Exec(ctx, query, userID, group, until); err != nil {
		return fmt.Errorf("granting group: %w", err)
	}
	return nil
}

// GrantPermissionUntil grants a direct permission that lapses at the
// given time.
func (p *Groups) GrantPermissionUntil(ctx context.Context, userID, perm string, until time.Time) error {
	query := `
		INSERT INTO users_permissions (user_id, permission, until_at, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, permission) DO UPDATE SET until_at = EXCLUDED.until_at`

	if _, err := p.pool.Exec(ctx, query, userID, perm, until); err != nil {
		return fmt.Errorf("granting permission: %w", err)
	}
	return nil
}

func (p *Groups) list(ctx context.Context, query, userID, what string) ([]string, error) {
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing %ss: %w", what, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", what, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", what, err)
	}

	return names, nil
}

func (p *Groups) add(ctx context.Context, query, userID string, names []string) error {
	if len(names) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, name := range names {
		batch.Queue(query, userID, name)
	}

	res := p.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range names {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("granting: %w", err)
		}
	}
	return nil
}
