package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unionlegal/platform/internal/case/domain"
	"github.com/unionlegal/platform/internal/shared/database"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/metrics"
	"github.com/unionlegal/platform/internal/shared/types"
)

const caseColumns = `id, reporter_id, organization_id, title, category, incident_date, description,
	lawyer_id, status, response, claimed_at, answered_at, completed_at, created_at, updated_at`

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool database.Querier
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool database.Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	c := &domain.Case{}
	err := row.Scan(
		&c.ID, &c.ReporterID, &c.OrganizationID, &c.Title, &c.Category, &c.IncidentDate, &c.Description,
		&c.LawyerID, &c.Status, &c.Response, &c.ClaimedAt, &c.AnsweredAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// Save saves a new case
func (r *PostgresRepository) Save(ctx context.Context, c *domain.Case) error {
	query := `
		INSERT INTO cases (
			id, reporter_id, organization_id, title, category, incident_date, description,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.ReporterID, c.OrganizationID, c.Title, c.Category, c.IncidentDate, c.Description,
		c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("case already exists")
		}
		return errors.Wrap(err, "failed to save case")
	}
	return nil
}

// FindByID finds a case by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	c, err := scanCase(r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("case", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find case")
	}
	return c, nil
}

// Claim assigns the lawyer with one conditional UPDATE. Zero rows means the
// case is either taken or missing; a follow-up existence check tells which.
func (r *PostgresRepository) Claim(ctx context.Context, id, lawyerID types.ID, at time.Time) (*domain.Case, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("case_claim", time.Since(start)) }()

	c, err := scanCase(r.pool.QueryRow(ctx, `
		UPDATE cases
		SET lawyer_id = $2, status = 'under_review', claimed_at = $3, updated_at = $3
		WHERE id = $1 AND lawyer_id IS NULL AND status = 'pending'
		RETURNING `+caseColumns,
		id, lawyerID, at,
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to claim case")
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, "failed to check case")
	}
	if !exists {
		return nil, errors.NotFound("case", id.String())
	}
	return nil, errors.AlreadyClaimed(id.String())
}

// Mutate applies fn under SELECT ... FOR UPDATE.
func (r *PostgresRepository) Mutate(ctx context.Context, id types.ID, fn func(c *domain.Case) error) (*domain.Case, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	c, err := scanCase(tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("case", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock case")
	}

	if err := fn(c); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE cases SET
			lawyer_id = $2, status = $3, response = $4,
			claimed_at = $5, answered_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $1`,
		c.ID, c.LawyerID, c.Status, c.Response,
		c.ClaimedAt, c.AnsweredAt, c.CompletedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update case")
	}

	for _, reply := range c.TakeReplies() {
		if err := r.saveReply(ctx, tx, &reply); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return c, nil
}

// List lists cases matching filter
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	filter.Normalize()

	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.ReporterID != nil {
		conditions = append(conditions, fmt.Sprintf("reporter_id = $%d", argNum))
		args = append(args, *filter.ReporterID)
		argNum++
	}

	if filter.LawyerID != nil {
		conditions = append(conditions, fmt.Sprintf("lawyer_id = $%d", argNum))
		args = append(args, *filter.LawyerID)
		argNum++
	}

	if len(filter.OrganizationIDs) > 0 {
		orgs := make([]string, 0, len(filter.OrganizationIDs))
		for _, id := range filter.OrganizationIDs {
			orgs = append(orgs, id.String())
		}
		conditions = append(conditions, fmt.Sprintf("organization_id = ANY($%d::uuid[])", argNum))
		args = append(args, orgs)
		argNum++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Unassigned {
		conditions = append(conditions, "lawyer_id IS NULL")
	}

	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, filter.Category)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM cases "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count cases")
	}

	orderDir := "ASC"
	if filter.OrderDesc {
		orderDir = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM cases
		%s
		ORDER BY created_at %s
		LIMIT $%d OFFSET $%d`, caseColumns, whereClause, orderDir, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan case")
		}
		cases = append(cases, *c)
	}

	return cases, total, rows.Err()
}

// --- Reply operations ---

func (r *PostgresRepository) saveReply(ctx context.Context, tx pgx.Tx, reply *domain.Reply) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO case_replies (id, case_id, author_id, is_lawyer_reply, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		reply.ID, reply.CaseID, reply.AuthorID, reply.IsLawyerReply, reply.Content, reply.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save reply")
	}
	return nil
}

// Replies returns a case's replies in creation order
func (r *PostgresRepository) Replies(ctx context.Context, caseID types.ID) ([]domain.Reply, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, case_id, author_id, is_lawyer_reply, content, created_at
		FROM case_replies
		WHERE case_id = $1
		ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get replies")
	}
	defer rows.Close()

	var replies []domain.Reply
	for rows.Next() {
		var reply domain.Reply
		if err := rows.Scan(&reply.ID, &reply.CaseID, &reply.AuthorID, &reply.IsLawyerReply, &reply.Content, &reply.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan reply")
		}
		replies = append(replies, reply)
	}

	return replies, rows.Err()
}

var _ domain.Repository = (*PostgresRepository)(nil)
