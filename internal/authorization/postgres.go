package authorization

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on database/sql.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) FindByActor(ctx context.Context, actorID types.ID) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, actor_id, organization_id, permission_set, created_at from authorization_records where actor_id=$1`,
		actorID,
	)
	var (
		r     Record
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.ActorID, &r.OrganizationID, &perms, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("authorization record", actorID.String())
		}
		return nil, errors.Wrap(err, "failed to find authorization record")
	}
	if err := json.Unmarshal(perms, &r.PermissionSet); err != nil {
		return nil, errors.Wrap(err, "failed to decode permission set")
	}
	return &r, nil
}

func (s *PGStore) InsertIfAbsent(ctx context.Context, r *Record) (bool, error) {
	perms, err := json.Marshal(r.PermissionSet)
	if err != nil {
		return false, errors.Wrap(err, "failed to encode permission set")
	}
	res, err := s.db.ExecContext(ctx,
		`insert into authorization_records(id, actor_id, organization_id, permission_set, created_at)
		values($1,$2,$3,$4,$5)
		on conflict (actor_id) do nothing`,
		r.ID, r.ActorID, r.OrganizationID, perms, r.CreatedAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert authorization record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read insert result")
	}
	return n == 1, nil
}
