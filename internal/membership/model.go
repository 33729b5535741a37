// Package membership implements organization membership applications and
// their approval state machine.
package membership

import (
	"time"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Status is the membership state. Approved and Rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Membership is one actor's relationship to one organization
type Membership struct {
	ID              types.ID   `json:"id"`
	ActorID         types.ID   `json:"actor_id"`
	OrganizationID  types.ID   `json:"organization_id"`
	Status          Status     `json:"status"`
	DecidedBy       *types.ID  `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewMembership creates a pending application
func NewMembership(actorID, orgID types.ID) *Membership {
	return &Membership{
		ID:             types.NewID(),
		ActorID:        actorID,
		OrganizationID: orgID,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// Approve moves a pending membership to Approved
func (m *Membership) Approve(decidedBy types.ID, at time.Time) error {
	if m.Status != StatusPending {
		return errors.AlreadyDecided(m.ID.String(), string(m.Status))
	}
	m.Status = StatusApproved
	m.DecidedBy = decidedBy.Ptr()
	m.DecidedAt = &at
	return nil
}

// Reject moves a pending membership to Rejected
func (m *Membership) Reject(decidedBy types.ID, reason string, at time.Time) error {
	if m.Status != StatusPending {
		return errors.AlreadyDecided(m.ID.String(), string(m.Status))
	}
	m.Status = StatusRejected
	m.DecidedBy = decidedBy.Ptr()
	m.DecidedAt = &at
	if reason != "" {
		m.RejectionReason = &reason
	}
	return nil
}

// Snapshot returns the evaluator's view of the membership
func (m Membership) Snapshot() auth.Membership {
	return auth.Membership{OrganizationID: m.OrganizationID, Status: auth.MembershipStatus(m.Status)}
}

// ApplyRequest is the request to join an organization
type ApplyRequest struct {
	OrganizationID types.ID `json:"organization_id" validate:"required,uuid"`
}

// RejectRequest carries an optional rejection reason
type RejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}
