package membership

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

var (
	decidedAt         = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	membershipColumns = strings.Split(strings.ReplaceAll(selectColumns, " ", ""), ",")
)

func sqlPattern(sql string) string {
	return regexp.QuoteMeta(strings.Join(strings.Fields(sql), " "))
}

func newMockRepository(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("Failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPostgresRepository(mock), mock
}

func membershipRow(id, actor, org types.ID, status Status, decidedBy *types.ID) *pgxmock.Rows {
	var at *time.Time
	if decidedBy != nil {
		at = &decidedAt
	}
	return pgxmock.NewRows(membershipColumns).AddRow(
		id.String(), actor.String(), org.String(), string(status),
		decidedBy, at, (*string)(nil), decidedAt.AddDate(0, 0, -1),
	)
}

// TestPostgresApply tests that the insert reports whether it created the row.
func TestPostgresApply(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		created  bool
	}{
		{"New application", 1, true},
		{"Existing application", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			id, actor, org := types.NewID(), types.NewID(), types.NewID()

			mock.ExpectExec(sqlPattern(`INSERT INTO memberships (id, actor_id, organization_id, status, created_at)
				VALUES ($1, $2, $3, $4, $5) ON CONFLICT (actor_id, organization_id) DO NOTHING`)).
				WithArgs(pgxmock.AnyArg(), actor, org, StatusPending, pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))
			mock.ExpectQuery(sqlPattern(`FROM memberships WHERE actor_id = $1 AND organization_id = $2`)).
				WithArgs(actor, org).
				WillReturnRows(membershipRow(id, actor, org, StatusPending, nil))

			m, created, err := repo.Apply(context.Background(), actor, org)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if created != tt.created {
				t.Errorf("Expected created %v, got %v", tt.created, created)
			}
			if m.ID != id {
				t.Errorf("Expected stored membership %s, got %s", id, m.ID)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

// TestPostgresDecideApprove tests that an approval also sets an unset
// primary organization in the same transaction.
func TestPostgresDecideApprove(t *testing.T) {
	repo, mock := newMockRepository(t)
	id, actor, org, admin := types.NewID(), types.NewID(), types.NewID(), types.NewID()

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`FROM memberships WHERE id = $1 FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(membershipRow(id, actor, org, StatusPending, nil))
	mock.ExpectExec(sqlPattern(`UPDATE memberships SET status = $2, decided_by = $3, decided_at = $4, rejection_reason = $5 WHERE id = $1`)).
		WithArgs(id, StatusApproved, admin.Ptr(), &decidedAt, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(sqlPattern(`UPDATE users SET organization_id = $2 WHERE id = $1 AND organization_id IS NULL`)).
		WithArgs(actor, org).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	m, err := repo.Decide(context.Background(), id, func(m *Membership) error {
		return m.Approve(admin, decidedAt)
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if m.Status != StatusApproved {
		t.Errorf("Expected status %s, got %s", StatusApproved, m.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// TestPostgresDecideReject tests that a rejection leaves the user row alone.
func TestPostgresDecideReject(t *testing.T) {
	repo, mock := newMockRepository(t)
	id, actor, org, admin := types.NewID(), types.NewID(), types.NewID(), types.NewID()
	reason := "Not a member of this local"

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(membershipRow(id, actor, org, StatusPending, nil))
	mock.ExpectExec(sqlPattern(`UPDATE memberships`)).
		WithArgs(id, StatusRejected, admin.Ptr(), &decidedAt, &reason).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if _, err := repo.Decide(context.Background(), id, func(m *Membership) error {
		return m.Reject(admin, reason, decidedAt)
	}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// TestPostgresDecideAlreadyDecided tests that a decided row is rolled back untouched.
func TestPostgresDecideAlreadyDecided(t *testing.T) {
	repo, mock := newMockRepository(t)
	id, actor, org, first, second := types.NewID(), types.NewID(), types.NewID(), types.NewID(), types.NewID()

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(membershipRow(id, actor, org, StatusApproved, first.Ptr()))
	mock.ExpectRollback()

	_, err := repo.Decide(context.Background(), id, func(m *Membership) error {
		return m.Approve(second, decidedAt)
	})
	if !errors.Is(err, errors.ErrAlreadyDecided) {
		t.Errorf("Expected ErrAlreadyDecided, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// TestPostgresDecideNotFound tests that a missing membership maps to NotFound.
func TestPostgresDecideNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := types.NewID()

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(membershipColumns))
	mock.ExpectRollback()

	_, err := repo.Decide(context.Background(), id, func(m *Membership) error {
		t.Error("Expected fn not to run for a missing membership")
		return nil
	})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
