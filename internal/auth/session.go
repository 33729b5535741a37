package auth

import (
	"github.com/unionlegal/platform/internal/shared/types"
)

// Actor is the authenticated caller as resolved by the identity layer.
type Actor struct {
	ID             types.ID  `json:"id"`
	Role           Role      `json:"role"`
	OrganizationID *types.ID `json:"organization_id,omitempty"`
}

// IsLawyer reports whether the actor answers cases.
func (a Actor) IsLawyer() bool {
	return a.Role == RoleLawyer
}

// MembershipStatus mirrors the membership states the evaluator cares about.
type MembershipStatus string

const (
	MembershipPending  MembershipStatus = "pending"
	MembershipApproved MembershipStatus = "approved"
	MembershipRejected MembershipStatus = "rejected"
)

// Membership is the pre-fetched view of one of the actor's organization memberships.
type Membership struct {
	OrganizationID types.ID         `json:"organization_id"`
	Status         MembershipStatus `json:"status"`
}

// Subject bundles an actor with the memberships fetched for it. The evaluator
// never queries storage; everything it needs travels here.
type Subject struct {
	Actor       Actor        `json:"actor"`
	Memberships []Membership `json:"memberships"`
}

// NewSubject creates a subject from an actor and its memberships.
func NewSubject(actor Actor, memberships ...Membership) Subject {
	return Subject{Actor: actor, Memberships: memberships}
}

// ActiveIn reports whether the subject holds an approved membership in org.
func (s Subject) ActiveIn(org types.ID) bool {
	for _, m := range s.Memberships {
		if m.Status == MembershipApproved && m.OrganizationID == org {
			return true
		}
	}
	return false
}

// ResourceContext carries the optional ownership facts for a check.
type ResourceContext struct {
	OwnerID        *types.ID
	OrganizationID *types.ID
}

// OwnedBy returns a context whose owner is id.
func OwnedBy(id types.ID) ResourceContext {
	return ResourceContext{OwnerID: id.Ptr()}
}

// InOrganization returns a context scoped to org (nil when org is unset).
func InOrganization(org *types.ID) ResourceContext {
	return ResourceContext{OrganizationID: org}
}
