// Package authorization keeps one materialized permission record per
// privileged actor and repairs missing records on demand.
package authorization

import (
	"context"
	"time"

	"github.com/unionlegal/platform/internal/shared/types"
)

// Record is the materialized grant set of an admin or super admin
type Record struct {
	ID             types.ID  `json:"id"`
	ActorID        types.ID  `json:"actor_id"`
	OrganizationID *types.ID `json:"organization_id,omitempty"`
	PermissionSet  []string  `json:"permission_set"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists records. InsertIfAbsent must be atomic on ActorID: when a
// record already exists it reports created=false and changes nothing.
type Store interface {
	FindByActor(ctx context.Context, actorID types.ID) (*Record, error)
	InsertIfAbsent(ctx context.Context, r *Record) (created bool, err error)
}
