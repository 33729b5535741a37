package domain

import (
	"context"
	"time"

	"github.com/unionlegal/platform/internal/shared/types"
)

// Repository defines the interface for case persistence
type Repository interface {
	Save(ctx context.Context, c *Case) error
	FindByID(ctx context.Context, id types.ID) (*Case, error)

	// Claim sets the lawyer only if the case is still unassigned, as one
	// conditional write. Losing returns AlreadyClaimed; an unknown id
	// returns NotFound.
	Claim(ctx context.Context, id, lawyerID types.ID, at time.Time) (*Case, error)

	// Mutate loads the case under a row lock, applies fn and persists the
	// case and any replies fn appended, all in one transaction.
	Mutate(ctx context.Context, id types.ID, fn func(c *Case) error) (*Case, error)

	List(ctx context.Context, filter ListFilter) ([]Case, int, error)
	Replies(ctx context.Context, caseID types.ID) ([]Reply, error)
}

// ListFilter defines filters for listing cases
type ListFilter struct {
	ReporterID      *types.ID  `json:"reporter_id,omitempty"`
	LawyerID        *types.ID  `json:"lawyer_id,omitempty"`
	OrganizationIDs []types.ID `json:"organization_ids,omitempty"`
	Status          *Status    `json:"status,omitempty"`
	Unassigned      bool       `json:"unassigned,omitempty"`
	Category        string     `json:"category,omitempty"`
	Search          string     `json:"search,omitempty"`
	Limit           int        `json:"limit,omitempty"`
	Offset          int        `json:"offset,omitempty"`
	OrderDesc       bool       `json:"order_desc,omitempty"`
}

// Normalize clamps paging values.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
