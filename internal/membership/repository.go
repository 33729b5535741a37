package membership

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/unionlegal/platform/internal/shared/database"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Repository is the membership persistence contract.
type Repository interface {
	// Apply inserts a pending membership unless one exists for the pair.
	// It returns the stored row and whether this call created it.
	Apply(ctx context.Context, actorID, orgID types.ID) (*Membership, bool, error)

	Get(ctx context.Context, id types.ID) (*Membership, error)
	ListForActor(ctx context.Context, actorID types.ID) ([]Membership, error)
	ListForOrganization(ctx context.Context, orgID types.ID, status *Status) ([]Membership, error)

	// Decide locks the row, applies fn and persists the result in one
	// transaction. An approval also sets the applicant's primary
	// organization when it is unset.
	Decide(ctx context.Context, id types.ID, fn func(m *Membership) error) (*Membership, error)
}

const selectColumns = `id, actor_id, organization_id, status, decided_by, decided_at, rejection_reason, created_at`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool database.Querier
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool database.Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanMembership(row pgx.Row) (*Membership, error) {
	m := &Membership{}
	err := row.Scan(&m.ID, &m.ActorID, &m.OrganizationID, &m.Status,
		&m.DecidedBy, &m.DecidedAt, &m.RejectionReason, &m.CreatedAt)
	return m, err
}

// Apply uses ON CONFLICT DO NOTHING keyed on (actor_id, organization_id).
func (r *PostgresRepository) Apply(ctx context.Context, actorID, orgID types.ID) (*Membership, bool, error) {
	candidate := NewMembership(actorID, orgID)

	result, err := r.pool.Exec(ctx, `
		INSERT INTO memberships (id, actor_id, organization_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (actor_id, organization_id) DO NOTHING`,
		candidate.ID, candidate.ActorID, candidate.OrganizationID, candidate.Status, candidate.CreatedAt,
	)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to apply for membership")
	}
	created := result.RowsAffected() == 1

	m, err := scanMembership(r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM memberships WHERE actor_id = $1 AND organization_id = $2`,
		actorID, orgID,
	))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to load membership")
	}
	return m, created, nil
}

// Get retrieves a membership by ID
func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*Membership, error) {
	m, err := scanMembership(r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM memberships WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("membership", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get membership")
	}
	return m, nil
}

// ListForActor lists an actor's memberships, oldest first
func (r *PostgresRepository) ListForActor(ctx context.Context, actorID types.ID) ([]Membership, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM memberships WHERE actor_id = $1 ORDER BY created_at`, actorID)
}

// ListForOrganization lists an organization's memberships, optionally by status
func (r *PostgresRepository) ListForOrganization(ctx context.Context, orgID types.ID, status *Status) ([]Membership, error) {
	if status != nil {
		return r.list(ctx, `SELECT `+selectColumns+` FROM memberships
			WHERE organization_id = $1 AND status = $2 ORDER BY created_at`, orgID, *status)
	}
	return r.list(ctx, `SELECT `+selectColumns+` FROM memberships
		WHERE organization_id = $1 ORDER BY created_at`, orgID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memberships")
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan membership")
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Decide runs the decision under SELECT ... FOR UPDATE.
func (r *PostgresRepository) Decide(ctx context.Context, id types.ID, fn func(m *Membership) error) (*Membership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	m, err := scanMembership(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM memberships WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("membership", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock membership")
	}

	if err := fn(m); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE memberships
		SET status = $2, decided_by = $3, decided_at = $4, rejection_reason = $5
		WHERE id = $1`,
		m.ID, m.Status, m.DecidedBy, m.DecidedAt, m.RejectionReason,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update membership")
	}

	if m.Status == StatusApproved {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET organization_id = $2 WHERE id = $1 AND organization_id IS NULL`,
			m.ActorID, m.OrganizationID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to set primary organization")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to commit membership %s", id))
	}
	return m, nil
}

var _ Repository = (*PostgresRepository)(nil)
