package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/unionlegal/platform/internal/shared/database"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Store is the directory persistence contract.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id types.ID) (*Organization, error)
	ListOrganizations(ctx context.Context, filter ListOrganizationsFilter) ([]Organization, int, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id types.ID) (*User, error)

	// SetPrimaryOrganizationIfUnset reports whether the user's organization was set.
	SetPrimaryOrganizationIfUnset(ctx context.Context, userID, orgID types.ID) (bool, error)

	// AdminsOf lists the deciders of an organization: its admins and every
	// super admin.
	AdminsOf(ctx context.Context, orgID types.ID) ([]types.ID, error)
}

// Repository provides PostgreSQL operations for organizations and users
type Repository struct {
	pool database.Querier
}

// NewRepository creates a new directory repository
func NewRepository(pool database.Querier) *Repository {
	return &Repository{pool: pool}
}

// --- Organization Operations ---

// CreateOrganization creates a new organization
func (r *Repository) CreateOrganization(ctx context.Context, org *Organization) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO organizations (id, name) VALUES ($1, $2) RETURNING created_at`,
		org.ID, org.Name,
	).Scan(&org.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("organization with this name already exists")
		}
		return errors.Wrap(err, "failed to create organization")
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (r *Repository) GetOrganization(ctx context.Context, id types.ID) (*Organization, error) {
	org := &Organization{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("organization", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get organization")
	}
	return org, nil
}

// ListOrganizations lists organizations matching the filter
func (r *Repository) ListOrganizations(ctx context.Context, filter ListOrganizationsFilter) ([]Organization, int, error) {
	whereClause := ""
	var args []interface{}
	if filter.Search != "" {
		whereClause = "WHERE name ILIKE $1"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM organizations "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count organizations")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, name, created_at FROM organizations %s
		ORDER BY name
		LIMIT %d OFFSET %d`, whereClause, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list organizations")
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan organization")
		}
		orgs = append(orgs, org)
	}
	return orgs, total, rows.Err()
}

// --- User Operations ---

// CreateUser creates a directory user
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, role, organization_id, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		user.ID, user.Role, user.OrganizationID, user.DisplayName,
	).Scan(&user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("user already exists")
		}
		return errors.Wrap(err, "failed to create user")
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id types.ID) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, role, organization_id, display_name, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Role, &user.OrganizationID, &user.DisplayName, &user.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return user, nil
}

// SetPrimaryOrganizationIfUnset sets the user's organization only when it is NULL.
func (r *Repository) SetPrimaryOrganizationIfUnset(ctx context.Context, userID, orgID types.ID) (bool, error) {
	result, err := r.pool.Exec(ctx,
		`UPDATE users SET organization_id = $2 WHERE id = $1 AND organization_id IS NULL`,
		userID, orgID,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to set primary organization")
	}
	return result.RowsAffected() == 1, nil
}

// AdminsOf lists every super admin plus the admins whose primary
// organization is orgID or who hold an approved membership in it.
func (r *Repository) AdminsOf(ctx context.Context, orgID types.ID) ([]types.ID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id FROM users u
		WHERE u.role = 'super_admin'
		   OR (u.role = 'admin' AND (u.organization_id = $1 OR EXISTS (
		        SELECT 1 FROM memberships m
		        WHERE m.actor_id = u.id AND m.organization_id = $1 AND m.status = 'approved')))
		ORDER BY u.created_at`, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list organization admins")
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan admin id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Store = (*Repository)(nil)
